package wire2ep

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/txpipeline"
)

// ProtocolVersion is the exact version string §6 requires for agreement;
// any other value is a hard mismatch.
const ProtocolVersion = "1.0"

// DefaultID is the JSON-RPC id the core always emits; §4.6 requires peers
// to accept any id, not just this one.
const DefaultID = "1"

// envelope is the raw wire shape of §4.6: one of Request, Response, or
// Error is populated.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

// wireError is the tagged protocol-error payload of §6/§7.
type wireError struct {
	Type         string  `json:"type"`
	Tag          string  `json:"tag,omitempty"`
	ProofVariant string  `json:"proof_variant,omitempty"`
	Index        *uint32 `json:"index,omitempty"`
	FinalVariant string  `json:"final_variant,omitempty"`
}

type versionParams struct {
	Version string `json:"version"`
}

type proofParams struct {
	Transaction HexBytes `json:"transaction"`
}

type witnessesParams struct {
	Fees                   uint64       `json:"fees"`
	ChangeScript           HexBytes     `json:"change_script"`
	ReceiverInputPosition  uint32       `json:"receiver_input_position"`
	ReceiverOutputPosition uint32       `json:"receiver_output_position"`
	Witnesses              [][]HexBytes `json:"witnesses"`
}

type wireOutpoint struct {
	Txid HexBytes `json:"txid"`
	Vout uint32   `json:"vout"`
}

type versionResult struct {
	Version string `json:"version"`
}

type utxosResult struct {
	Utxos []wireOutpoint `json:"utxos"`
}

type txidResult struct {
	Txid        HexBytes `json:"txid"`
	Transaction HexBytes `json:"transaction"`
}

// EncodeRequest serializes a Request frame (VERSION, PROOF, or WITNESSES)
// as one newline-terminated JSON line.
func EncodeRequest(id string, msg Message) ([]byte, error) {
	var (
		method string
		params interface{}
	)

	switch m := msg.(type) {
	case VersionMessage:
		method = "VERSION"
		params = versionParams{Version: m.Version}
	case ProofMessage:
		txBytes, err := serializeTx(m.Transaction)
		if err != nil {
			return nil, err
		}
		method = "PROOF"
		params = proofParams{Transaction: txBytes}
	case WitnessesMessage:
		p, err := encodeWitnessesParams(m)
		if err != nil {
			return nil, err
		}
		method = "WITNESSES"
		params = p
	default:
		return nil, fmt.Errorf("wire2ep: %T is not a request message", msg)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	return marshalLine(envelope{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
}

// EncodeResponse serializes a Response (success) frame.
func EncodeResponse(id string, msg Message) ([]byte, error) {
	var result interface{}

	switch m := msg.(type) {
	case VersionMessage:
		result = versionResult{Version: m.Version}
	case UtxosMessage:
		outs := make([]wireOutpoint, len(m.Utxos))
		for i, o := range m.Utxos {
			outs[i] = wireOutpoint{Txid: HexBytes(o.Hash[:]), Vout: o.Index}
		}
		result = utxosResult{Utxos: outs}
	case TxidMessage:
		txBytes, err := serializeTx(m.Transaction)
		if err != nil {
			return nil, err
		}
		result = txidResult{
			Txid:        HexBytes(m.Txid[:]),
			Transaction: txBytes,
		}
	default:
		return nil, fmt.Errorf("wire2ep: %T is not a response message", msg)
	}

	rawResult, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	return marshalLine(envelope{
		JSONRPC: "2.0",
		ID:      id,
		Result:  rawResult,
	})
}

// EncodeError serializes an Error frame carrying pe.
func EncodeError(id string, pe *p2eperr.ProtocolError) ([]byte, error) {
	return marshalLine(envelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   toWireError(pe),
	})
}

func marshalLine(env envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

// FrameKind distinguishes which of the three §4.6 envelope shapes a
// decoded line used, so RpcLoop can enforce that each side only ever
// accepts frames of the expected direction.
type FrameKind int

const (
	// FrameError marks a line that carried an error payload.
	FrameError FrameKind = iota
	// FrameRequest marks a line shaped {method, params, ...}.
	FrameRequest
	// FrameResponse marks a line shaped {result, ...}.
	FrameResponse
)

// Decode parses one line (already trimmed of its trailing newline and
// surrounding whitespace) into exactly one of: a request/response Message,
// a protocol error relayed by the peer, or a decode error. kind reports
// which envelope shape was used so callers can enforce direction.
func Decode(line []byte) (id string, kind FrameKind, msg Message, peerErr *p2eperr.ProtocolError, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", FrameError, nil, nil, err
	}
	id = env.ID

	if env.Error != nil {
		return id, FrameError, nil, fromWireError(env.Error), nil
	}

	if env.Method != "" {
		msg, err := decodeRequest(env.Method, env.Params)
		return id, FrameRequest, msg, nil, err
	}

	if env.Result != nil {
		msg, err := decodeResponse(env.Result)
		return id, FrameResponse, msg, nil, err
	}

	return id, FrameError, nil, nil, fmt.Errorf("wire2ep: envelope has none of method/result/error")
}

func decodeRequest(method string, params json.RawMessage) (Message, error) {
	switch method {
	case "VERSION":
		var p versionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return VersionMessage{Version: p.Version}, nil

	case "PROOF":
		var p proofParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		tx, err := deserializeTx(p.Transaction)
		if err != nil {
			return nil, err
		}
		return ProofMessage{Transaction: tx}, nil

	case "WITNESSES":
		var p witnessesParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return decodeWitnessesParams(p)

	default:
		return nil, fmt.Errorf("wire2ep: unknown request method %q", method)
	}
}

// decodeResponse dispatches on the first recognized key present in the
// untagged result union, per the JSON-RPC envelope design note of §9.
func decodeResponse(result json.RawMessage) (Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(result, &probe); err != nil {
		return nil, err
	}

	if _, ok := probe["version"]; ok {
		var r versionResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, err
		}
		return VersionMessage{Version: r.Version}, nil
	}

	if _, ok := probe["utxos"]; ok {
		var r utxosResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, err
		}
		outs := make([]wire.OutPoint, len(r.Utxos))
		for i, o := range r.Utxos {
			var h chainhash.Hash
			if len(o.Txid) != chainhash.HashSize {
				return nil, fmt.Errorf("wire2ep: utxo %d: txid must be %d bytes", i, chainhash.HashSize)
			}
			copy(h[:], o.Txid)
			outs[i] = wire.OutPoint{Hash: h, Index: o.Vout}
		}
		return UtxosMessage{Utxos: outs}, nil
	}

	if _, ok := probe["txid"]; ok {
		var r txidResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, err
		}
		var h chainhash.Hash
		if len(r.Txid) != chainhash.HashSize {
			return nil, fmt.Errorf("wire2ep: txid must be %d bytes", chainhash.HashSize)
		}
		copy(h[:], r.Txid)
		tx, err := deserializeTx(r.Transaction)
		if err != nil {
			return nil, err
		}
		return TxidMessage{Txid: h, Transaction: tx}, nil
	}

	return nil, fmt.Errorf("wire2ep: response result matches no known shape")
}

func encodeWitnessesParams(m WitnessesMessage) (witnessesParams, error) {
	outer := make([][]HexBytes, len(m.Witnesses))
	for i, bundle := range m.Witnesses {
		inner := make([]HexBytes, len(bundle))
		for j, stack := range bundle {
			raw, err := SerializeWitness(stack)
			if err != nil {
				return witnessesParams{}, err
			}
			inner[j] = raw
		}
		outer[i] = inner
	}

	return witnessesParams{
		Fees:                   uint64(m.Fees),
		ChangeScript:           m.ChangeScript,
		ReceiverInputPosition:  m.ReceiverInputPosition,
		ReceiverOutputPosition: m.ReceiverOutputPosition,
		Witnesses:              outer,
	}, nil
}

func decodeWitnessesParams(p witnessesParams) (Message, error) {
	outer := make([]txpipeline.WitnessBundle, len(p.Witnesses))
	for i, inner := range p.Witnesses {
		bundle := make(txpipeline.WitnessBundle, len(inner))
		for j, raw := range inner {
			stack, err := DeserializeWitness(raw)
			if err != nil {
				return nil, fmt.Errorf("wire2ep: witness bundle %d entry %d: %w", i, j, err)
			}
			bundle[j] = stack
		}
		outer[i] = bundle
	}

	return WitnessesMessage{
		Fees:                   btcutil.Amount(p.Fees),
		ChangeScript:           p.ChangeScript,
		ReceiverInputPosition:  p.ReceiverInputPosition,
		ReceiverOutputPosition: p.ReceiverOutputPosition,
		Witnesses:              outer,
	}, nil
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func toWireError(pe *p2eperr.ProtocolError) *wireError {
	we := &wireError{Type: pe.Kind.String()}

	switch pe.Kind {
	case p2eperr.Expected, p2eperr.InvalidVersion:
		we.Tag = pe.Tag
	case p2eperr.InvalidProof:
		we.ProofVariant = pe.Proof.Kind.String()
		if pe.Proof.Index >= 0 {
			idx := uint32(pe.Proof.Index)
			we.Index = &idx
		}
	case p2eperr.InvalidFinalTransaction:
		we.FinalVariant = pe.Final.Kind.String()
	}

	return we
}

func fromWireError(we *wireError) *p2eperr.ProtocolError {
	switch we.Type {
	case "EXPECTED":
		return p2eperr.NewExpected(we.Tag)
	case "INVALIDVERSION":
		return p2eperr.NewInvalidVersion(we.Tag)
	case "INVALIDPROOF":
		idx := -1
		if we.Index != nil {
			idx = int(*we.Index)
		}
		return p2eperr.NewInvalidProof(&p2eperr.ProofError{
			Kind:  proofKindFromString(we.ProofVariant),
			Index: idx,
		})
	case "INVALIDFINALTRANSACTION":
		return p2eperr.NewInvalidFinalTransaction(&p2eperr.FinalTxError{
			Kind: finalKindFromString(we.FinalVariant),
		})
	case "INVALIDUTXO":
		return p2eperr.ErrInvalidUtxo
	case "MISSINGDATA":
		return p2eperr.ErrMissingData
	default:
		return p2eperr.ErrUnexpectedMessage
	}
}

func proofKindFromString(s string) p2eperr.ProofErrorKind {
	kinds := []p2eperr.ProofErrorKind{
		p2eperr.ProofInvalidVersion, p2eperr.ProofInvalidLocktime,
		p2eperr.ProofInvalidProofOutput, p2eperr.ProofMissingUTXO,
		p2eperr.ProofInvalidInputType, p2eperr.ProofInputIsSpent,
		p2eperr.ProofInvalidInputSignature,
	}
	for _, k := range kinds {
		if k.String() == s {
			return k
		}
	}
	return p2eperr.ProofInvalidVersion
}

func finalKindFromString(s string) p2eperr.FinalTxErrorKind {
	kinds := []p2eperr.FinalTxErrorKind{
		p2eperr.NegativeSenderAmount, p2eperr.InvalidReceiverInputSequence,
		p2eperr.InvalidReceiverInputNonEmptySig, p2eperr.InvalidWitness,
		p2eperr.ReceiverOutputIndexOutOfRange, p2eperr.ReceiverInputIndexOutOfRange,
	}
	for _, k := range kinds {
		if k.String() == s {
			return k
		}
	}
	return p2eperr.NegativeSenderAmount
}

package fsm

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/rpcloop"
	"github.com/pay2ep/p2ep/signer"
	"github.com/pay2ep/p2ep/txpipeline"
	"github.com/pay2ep/p2ep/wire2ep"
)

type receiverState int

const (
	receiverWaitingVersion receiverState = iota
	receiverClientVersion
	receiverClientProof
	receiverClientWitnesses
)

// ReceiverFsm drives the payee side of the exchange: §4.5.
type ReceiverFsm struct {
	chainOracle chain.Oracle
	signOracle  signer.Oracle

	ourUTXO        wire.OutPoint
	expectedScript []byte
	expectedAmount btcutil.Amount
	rngSeed        int64

	state receiverState

	proof           *txpipeline.ProofTx
	ourUTXOPosition int

	txid    chainhash.Hash
	finalTx *wire.MsgTx
}

// NewReceiverFsm builds a ReceiverFsm for one session. ourUTXO is the
// receiver's own unspent output to contribute as the second input;
// expectedScript/expectedAmount are the payment this session must collect
// before broadcast; rngSeed fixes the decoy walk and candidate-position
// draw deterministically.
func NewReceiverFsm(ourUTXO wire.OutPoint, expectedScript []byte, expectedAmount btcutil.Amount, rngSeed int64, oracle chain.Oracle, sign signer.Oracle) *ReceiverFsm {
	return &ReceiverFsm{
		chainOracle:    oracle,
		signOracle:     sign,
		ourUTXO:        ourUTXO,
		expectedScript: expectedScript,
		expectedAmount: expectedAmount,
		rngSeed:        rngSeed,
		state:          receiverWaitingVersion,
	}
}

// Role implements rpcloop.Driver.
func (f *ReceiverFsm) Role() rpcloop.Role { return rpcloop.RoleReceiver }

// Setup implements rpcloop.Driver: the receiver never speaks first.
func (f *ReceiverFsm) Setup() (wire2ep.Message, error) {
	return nil, nil
}

// Txid returns the broadcast transaction id once the session reaches its
// terminal state.
func (f *ReceiverFsm) Txid() chainhash.Hash { return f.txid }

// FinalTx returns the broadcast transaction once the session reaches its
// terminal state.
func (f *ReceiverFsm) FinalTx() *wire.MsgTx { return f.finalTx }

// Step implements rpcloop.Driver.
func (f *ReceiverFsm) Step(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	switch f.state {
	case receiverWaitingVersion:
		return f.onVersion(msg)
	case receiverClientVersion:
		return f.onProof(msg)
	case receiverClientProof:
		return f.onWitnesses(msg)
	default:
		return nil, false, unexpected("none")
	}
}

func (f *ReceiverFsm) onVersion(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	v, ok := msg.(wire2ep.VersionMessage)
	if !ok {
		return nil, false, unexpected("VERSION")
	}
	if v.Version != wire2ep.ProtocolVersion {
		return nil, false, p2eperr.Protocol(p2eperr.NewInvalidVersion(v.Version))
	}

	f.state = receiverClientVersion

	return wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion}, false, nil
}

// onProof validates the sender's proof before offering any UTXO
// candidates, per §4.5's security essentials: a receiver must never fish
// its own UTXO set in front of an unproven sender.
func (f *ReceiverFsm) onProof(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	p, ok := msg.(wire2ep.ProofMessage)
	if !ok {
		return nil, false, unexpected("PROOF")
	}

	proof, err := txpipeline.NewValidatedProof(p.Transaction, f.chainOracle)
	if err != nil {
		var proofErr *p2eperr.ProofError
		if errors.As(err, &proofErr) {
			return nil, false, p2eperr.Protocol(p2eperr.NewInvalidProof(proofErr))
		}
		return nil, false, p2eperr.External(err)
	}
	f.proof = proof

	decoys, err := f.chainOracle.PickDecoys(f.ourUTXO, f.rngSeed, decoyCount)
	if err != nil {
		return nil, false, p2eperr.External(err)
	}
	if len(decoys) < decoyCount {
		return nil, false, p2eperr.Protocol(p2eperr.ErrMissingData)
	}

	rng := chain.NewRand(f.rngSeed)
	position := rng.Intn(candidateListLength)

	list := make([]wire.OutPoint, candidateListLength)
	di := 0
	for i := range list {
		if i == position {
			list[i] = f.ourUTXO
			continue
		}
		list[i] = decoys[di]
		di++
	}
	f.ourUTXOPosition = position

	f.state = receiverClientProof

	return wire2ep.UtxosMessage{Utxos: list}, false, nil
}

func (f *ReceiverFsm) onWitnesses(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	w, ok := msg.(wire2ep.WitnessesMessage)
	if !ok {
		return nil, false, unexpected("WITNESSES")
	}

	if f.ourUTXOPosition >= len(w.Witnesses) {
		return nil, false, p2eperr.Protocol(p2eperr.ErrMissingData)
	}

	meta := txpipeline.FinalTxMeta{
		Proof:              f.proof,
		Fees:               w.Fees,
		SenderChangeScript: w.ChangeScript,
		ReceiverTxIn: &wire.TxIn{
			PreviousOutPoint: f.ourUTXO,
			Sequence:         wire.MaxTxInSequenceNum,
		},
		ReceiverInputIndex: int(w.ReceiverInputPosition),
		ReceiverTxOut: &wire.TxOut{
			Value:    int64(f.expectedAmount),
			PkScript: f.expectedScript,
		},
		ReceiverOutputIndex: int(w.ReceiverOutputPosition),
	}

	unsigned, err := txpipeline.NewUnsignedFinal(meta, f.chainOracle)
	if err != nil {
		return nil, false, wrapFinalTxErr(err)
	}

	senderSigned, err := unsigned.AdoptWitnesses(w.Witnesses[f.ourUTXOPosition])
	if err != nil {
		return nil, false, wrapFinalTxErr(err)
	}

	signed, err := senderSigned.ReceiverSign(f.signOracle)
	if err != nil {
		return nil, false, p2eperr.External(err)
	}

	txid, err := f.chainOracle.Broadcast(signed.Tx())
	if err != nil {
		return nil, false, p2eperr.External(err)
	}

	f.txid = *txid
	f.finalTx = signed.Tx()
	f.state = receiverClientWitnesses

	return wire2ep.TxidMessage{Txid: f.txid, Transaction: f.finalTx}, true, nil
}

package fsm

import (
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

type senderState int

const (
	senderWaitingVersion senderState = iota
	senderServerVersion
	senderServerUtxos
	senderServerTxid
)

// SenderFsm drives the paying side of the exchange: §4.4.
type SenderFsm struct {
	chainOracle chain.Oracle
	signOracle  signer.Oracle

	baseTx              *wire.MsgTx
	receiverOutputIndex int

	state senderState

	proof              *txpipeline.ProofTx
	changeScript       []byte
	fees               btcutil.Amount
	receiverInputIndex int
	receiverTxOut      *wire.TxOut

	txid    chainhash.Hash
	finalTx *wire.MsgTx
}

// NewSenderFsm builds a SenderFsm for one session. baseTx is the sender's
// own funding transaction shape (never mutated); receiverOutputIndex
// names which of its outputs is the payment to the receiver.
func NewSenderFsm(baseTx *wire.MsgTx, receiverOutputIndex int, oracle chain.Oracle, sign signer.Oracle) *SenderFsm {
	return &SenderFsm{
		chainOracle:         oracle,
		signOracle:          sign,
		baseTx:              baseTx,
		receiverOutputIndex: receiverOutputIndex,
		state:               senderWaitingVersion,
	}
}

// Role implements rpcloop.Driver.
func (f *SenderFsm) Role() rpcloop.Role { return rpcloop.RoleSender }

// Setup implements rpcloop.Driver: the sender always speaks first.
func (f *SenderFsm) Setup() (wire2ep.Message, error) {
	return wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion}, nil
}

// Txid returns the broadcast transaction id once the session reaches its
// terminal state.
func (f *SenderFsm) Txid() chainhash.Hash { return f.txid }

// FinalTx returns the broadcast transaction once the session reaches its
// terminal state.
func (f *SenderFsm) FinalTx() *wire.MsgTx { return f.finalTx }

// Step implements rpcloop.Driver.
func (f *SenderFsm) Step(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	switch f.state {
	case senderWaitingVersion:
		return f.onVersion(msg)
	case senderServerVersion:
		return f.onUtxos(msg)
	case senderServerUtxos:
		return f.onTxid(msg)
	default:
		return nil, false, unexpected("none")
	}
}

func (f *SenderFsm) onVersion(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	v, ok := msg.(wire2ep.VersionMessage)
	if !ok {
		return nil, false, unexpected("VERSION")
	}
	if v.Version != wire2ep.ProtocolVersion {
		return nil, false, p2eperr.Protocol(p2eperr.NewInvalidVersion(v.Version))
	}

	proof, err := txpipeline.NewCreatedProof(f.baseTx, f.signOracle)
	if err != nil {
		return nil, false, p2eperr.External(err)
	}
	f.proof = proof
	f.state = senderServerVersion

	return wire2ep.ProofMessage{Transaction: proof.Tx()}, false, nil
}

func (f *SenderFsm) onUtxos(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	u, ok := msg.(wire2ep.UtxosMessage)
	if !ok {
		return nil, false, unexpected("UTXOS")
	}

	changeIndex := 0
	if f.receiverOutputIndex == 0 {
		changeIndex = 1
	}
	f.changeScript = f.baseTx.TxOut[changeIndex].PkScript
	f.fees = txpipeline.DefaultFees
	f.receiverInputIndex = len(f.baseTx.TxIn)
	f.receiverTxOut = f.baseTx.TxOut[f.receiverOutputIndex]

	bundles := make([]txpipeline.WitnessBundle, len(u.Utxos))
	for i, candidate := range u.Utxos {
		unspent, err := f.chainOracle.IsUnspent(candidate)
		if err != nil {
			return nil, false, p2eperr.External(err)
		}
		if !unspent {
			return nil, false, p2eperr.Protocol(p2eperr.ErrInvalidUtxo)
		}

		meta := txpipeline.FinalTxMeta{
			Proof:              f.proof,
			Fees:               f.fees,
			SenderChangeScript: f.changeScript,
			ReceiverTxIn: &wire.TxIn{
				PreviousOutPoint: candidate,
				Sequence:         wire.MaxTxInSequenceNum,
			},
			ReceiverInputIndex:  f.receiverInputIndex,
			ReceiverTxOut:       f.receiverTxOut,
			ReceiverOutputIndex: f.receiverOutputIndex,
		}

		unsigned, err := txpipeline.NewUnsignedFinal(meta, f.chainOracle)
		if err != nil {
			return nil, false, wrapFinalTxErr(err)
		}
		signed, err := unsigned.SenderSign(f.signOracle)
		if err != nil {
			return nil, false, p2eperr.External(err)
		}
		bundles[i] = signed.ExtractWitnesses()
	}

	f.state = senderServerUtxos

	return wire2ep.WitnessesMessage{
		Fees:                   f.fees,
		ChangeScript:           f.changeScript,
		ReceiverInputPosition:  uint32(f.receiverInputIndex),
		ReceiverOutputPosition: uint32(f.receiverOutputIndex),
		Witnesses:              bundles,
	}, false, nil
}

func (f *SenderFsm) onTxid(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	t, ok := msg.(wire2ep.TxidMessage)
	if !ok {
		return nil, false, unexpected("TXID")
	}

	f.txid = t.Txid
	f.finalTx = t.Transaction
	f.state = senderServerTxid

	return nil, true, nil
}

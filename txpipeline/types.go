// Package txpipeline implements the typed transaction transformation
// pipeline of §4.3: proof construction, proof validation, final assembly,
// and the two-sided signing handoff. Each stage is a distinct Go type
// produced only by the function allowed to produce it, so "signed by
// whom" stays a constructor-enforced fact even without real phantom
// type-state markers (§9 design note).
package txpipeline

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ProofBurnValue is the fixed, economically impossible output value every
// proof transaction carries: 21,000,000 BTC in satoshis.
const ProofBurnValue = 21_000_000 * btcutil.SatoshiPerBitcoin

// DefaultFees is the fixed per-session network fee the sender commits to,
// per §4.4.
const DefaultFees btcutil.Amount = 5000

// proofState distinguishes a proof transaction built by the sender
// (Created, not yet checked against chain state) from one accepted by the
// receiver (Validated, checked end to end).
type proofState int

const (
	proofCreated proofState = iota
	proofValidated
)

// ProofTx is a Transaction with the distinguishing shape of §3/§4.3,
// tagged Created or Validated. There is no exported way to construct one
// except through NewCreatedProof or NewValidatedProof.
type ProofTx struct {
	tx    *wire.MsgTx
	state proofState
}

// Tx returns the underlying transaction. Callers must not mutate it;
// pipeline stages that need to transform it always return a new value.
func (p *ProofTx) Tx() *wire.MsgTx {
	return p.tx
}

// IsValidated reports whether this proof has been through receiver-side
// validation.
func (p *ProofTx) IsValidated() bool {
	return p.state == proofValidated
}

// finalState distinguishes the three stages a FinalTx passes through.
type finalState int

const (
	finalUnsigned finalState = iota
	finalSenderSigned
	finalSigned
)

// FinalTx is the assembled sender+receiver transaction, tagged with its
// signing stage. The ReceiverInputIndex is carried through every stage
// since later stages need to skip it when signing or adopting witnesses.
type FinalTx struct {
	tx                 *wire.MsgTx
	state              finalState
	receiverInputIndex int
}

// Tx returns the underlying transaction.
func (f *FinalTx) Tx() *wire.MsgTx {
	return f.tx
}

// ReceiverInputIndex returns the input index reserved for the receiver's
// contributed UTXO.
func (f *FinalTx) ReceiverInputIndex() int {
	return f.receiverInputIndex
}

// IsSenderSigned reports whether every input except the receiver's has
// been signed.
func (f *FinalTx) IsSenderSigned() bool {
	return f.state == finalSenderSigned
}

// IsSigned reports whether the receiver's input has also been signed,
// i.e. the transaction is broadcastable.
func (f *FinalTx) IsSigned() bool {
	return f.state == finalSigned
}

// FinalTxMeta bundles everything NewUnsignedFinal needs beyond the proof's
// current inputs, per §3.
type FinalTxMeta struct {
	Proof *ProofTx

	Fees               btcutil.Amount
	SenderChangeScript []byte

	ReceiverTxIn        *wire.TxIn
	ReceiverInputIndex  int
	ReceiverTxOut       *wire.TxOut
	ReceiverOutputIndex int
}

// WitnessBundle is the ordered sequence of witness stacks extracted for (or
// adopted by) one candidate: one entry per sender input, in sender-input
// order, skipping the receiver's input index.
type WitnessBundle []wire.TxWitness

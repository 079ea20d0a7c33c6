package txpipeline

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/signer"
)

// NewUnsignedFinal builds a FinalTx<Unsigned> from meta per §4.3: discards
// the proof's outputs, sums the sender's existing input values, subtracts
// fees and the receiver's agreed amount (rejecting on underflow at either
// subtraction), appends the sender's change output, folds the receiver's
// own UTXO value into their payout, and inserts the receiver's output and
// input at the requested positions.
func NewUnsignedFinal(meta FinalTxMeta, oracle chain.Oracle) (*FinalTx, error) {
	tx := meta.Proof.Tx().Copy()
	tx.TxOut = nil

	var senderInputValue btcutil.Amount
	for _, in := range tx.TxIn {
		prevOut, err := chain.PrevOut(oracle, in.PreviousOutPoint)
		if err != nil {
			return nil, fmt.Errorf("txpipeline: lookup sender input %v: %w", in.PreviousOutPoint, err)
		}
		senderInputValue += btcutil.Amount(prevOut.Value)
	}

	afterFees, ok := checkedSub(senderInputValue, meta.Fees)
	if !ok {
		return nil, p2eperr.NewFinalTxError(p2eperr.NegativeSenderAmount)
	}
	senderChangeValue, ok := checkedSub(afterFees, btcutil.Amount(meta.ReceiverTxOut.Value))
	if !ok {
		return nil, p2eperr.NewFinalTxError(p2eperr.NegativeSenderAmount)
	}

	tx.AddTxOut(wire.NewTxOut(int64(senderChangeValue), meta.SenderChangeScript))

	receiverPrevOut, err := chain.PrevOut(oracle, meta.ReceiverTxIn.PreviousOutPoint)
	if err != nil {
		return nil, fmt.Errorf("txpipeline: lookup receiver input %v: %w", meta.ReceiverTxIn.PreviousOutPoint, err)
	}

	receiverValue := btcutil.Amount(meta.ReceiverTxOut.Value) + btcutil.Amount(receiverPrevOut.Value)
	receiverTxOut := wire.NewTxOut(int64(receiverValue), meta.ReceiverTxOut.PkScript)

	if meta.ReceiverOutputIndex > len(tx.TxOut) {
		return nil, p2eperr.NewFinalTxError(p2eperr.ReceiverOutputIndexOutOfRange)
	}
	tx.TxOut = insertTxOut(tx.TxOut, meta.ReceiverOutputIndex, receiverTxOut)

	if meta.ReceiverTxIn.Sequence != wire.MaxTxInSequenceNum {
		return nil, p2eperr.NewFinalTxError(p2eperr.InvalidReceiverInputSequence)
	}
	if len(meta.ReceiverTxIn.SignatureScript) != 0 || len(meta.ReceiverTxIn.Witness) != 0 {
		return nil, p2eperr.NewFinalTxError(p2eperr.InvalidReceiverInputNonEmptySig)
	}
	if meta.ReceiverInputIndex > len(tx.TxIn) {
		return nil, p2eperr.NewFinalTxError(p2eperr.ReceiverInputIndexOutOfRange)
	}
	tx.TxIn = insertTxIn(tx.TxIn, meta.ReceiverInputIndex, meta.ReceiverTxIn)

	return &FinalTx{tx: tx, state: finalUnsigned, receiverInputIndex: meta.ReceiverInputIndex}, nil
}

// SenderSign produces a FinalTx<SenderSigned> by clearing every input's
// script_sig/witness and signing every index except the receiver's.
func (f *FinalTx) SenderSign(sign signer.Oracle) (*FinalTx, error) {
	if f.state != finalUnsigned {
		return nil, fmt.Errorf("txpipeline: SenderSign requires an Unsigned FinalTx")
	}

	tx := f.tx.Copy()
	for _, in := range tx.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	indices := make([]int, 0, len(tx.TxIn))
	for i := range tx.TxIn {
		if i != f.receiverInputIndex {
			indices = append(indices, i)
		}
	}
	if err := sign.Sign(tx, indices); err != nil {
		return nil, err
	}

	return &FinalTx{tx: tx, state: finalSenderSigned, receiverInputIndex: f.receiverInputIndex}, nil
}

// AdoptWitnesses is the receiver-side analogue of SenderSign: it replaces
// every non-receiver input's witness with the corresponding entry of
// bundle (indexed by the skip-filtered sender-input enumeration),
// producing a FinalTx<SenderSigned> without ever seeing the sender's
// private keys.
func (f *FinalTx) AdoptWitnesses(bundle WitnessBundle) (*FinalTx, error) {
	if f.state != finalUnsigned {
		return nil, fmt.Errorf("txpipeline: AdoptWitnesses requires an Unsigned FinalTx")
	}

	tx := f.tx.Copy()

	j := 0
	for i := range tx.TxIn {
		if i == f.receiverInputIndex {
			continue
		}
		if j >= len(bundle) {
			return nil, p2eperr.NewFinalTxError(p2eperr.InvalidWitness)
		}
		tx.TxIn[i].Witness = bundle[j]
		j++
	}
	if j != len(bundle) {
		return nil, p2eperr.NewFinalTxError(p2eperr.InvalidWitness)
	}

	return &FinalTx{tx: tx, state: finalSenderSigned, receiverInputIndex: f.receiverInputIndex}, nil
}

// ReceiverSign produces a FinalTx<Signed> by signing exactly the receiver's
// own input index, leaving every other (already sender-signed) input
// untouched.
func (f *FinalTx) ReceiverSign(sign signer.Oracle) (*FinalTx, error) {
	if f.state != finalSenderSigned {
		return nil, fmt.Errorf("txpipeline: ReceiverSign requires a SenderSigned FinalTx")
	}

	tx := f.tx.Copy()
	if err := sign.Sign(tx, []int{f.receiverInputIndex}); err != nil {
		return nil, err
	}

	return &FinalTx{tx: tx, state: finalSigned, receiverInputIndex: f.receiverInputIndex}, nil
}

// ExtractWitnesses returns the witness stack of every input except the
// receiver's, in sender-input order, for shipping to the receiver as a
// WitnessBundle.
func (f *FinalTx) ExtractWitnesses() WitnessBundle {
	bundle := make(WitnessBundle, 0, len(f.tx.TxIn))
	for i, in := range f.tx.TxIn {
		if i == f.receiverInputIndex {
			continue
		}
		bundle = append(bundle, in.Witness)
	}
	return bundle
}

// checkedSub returns a-b and true, or (0, false) if the result would be
// negative. An exact-zero result is permitted, per §8.
func checkedSub(a, b btcutil.Amount) (btcutil.Amount, bool) {
	r := a - b
	if r < 0 {
		return 0, false
	}
	return r, true
}

func insertTxOut(outs []*wire.TxOut, index int, out *wire.TxOut) []*wire.TxOut {
	outs = append(outs, nil)
	copy(outs[index+1:], outs[index:])
	outs[index] = out
	return outs
}

func insertTxIn(ins []*wire.TxIn, index int, in *wire.TxIn) []*wire.TxIn {
	ins = append(ins, nil)
	copy(ins[index+1:], ins[index:])
	ins[index] = in
	return ins
}

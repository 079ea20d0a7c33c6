package txpipeline

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/signer"
)

// errInvalidBaseTx is returned when the sender's own base transaction
// doesn't meet the shape §3 requires of every transaction this core
// handles.
var errInvalidBaseTx = fmt.Errorf("txpipeline: base transaction must have version 2 and lock_time 0")

// NewCreatedProof builds a ProofTx<Created> from tx per §4.3: clears the
// outputs down to the single burn output, clears every input's script_sig
// and witness, then asks the signer to sign every input.
func NewCreatedProof(tx *wire.MsgTx, sign signer.Oracle) (*ProofTx, error) {
	if tx.Version != 2 || tx.LockTime != 0 {
		return nil, errInvalidBaseTx
	}

	proof := tx.Copy()

	proof.TxOut = []*wire.TxOut{
		wire.NewTxOut(ProofBurnValue, nil),
	}

	for _, in := range proof.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	indices := make([]int, len(proof.TxIn))
	for i := range indices {
		indices[i] = i
	}
	if err := sign.Sign(proof, indices); err != nil {
		return nil, err
	}

	return &ProofTx{tx: proof, state: proofCreated}, nil
}

// NewValidatedProof builds a ProofTx<Validated> from tx per §4.3, checking
// each rejection case in order and returning the specific enum variant for
// the first one encountered. The returned error is a *p2eperr.ProofError
// for a rejected proof, or the oracle's own error unwrapped for a
// ChainOracle lookup failure — the caller tells the two apart (a lookup
// failure is an External error, not a statement about the proof).
func NewValidatedProof(tx *wire.MsgTx, oracle chain.Oracle) (*ProofTx, error) {
	if tx.Version != 2 {
		return nil, p2eperr.NewProofError(p2eperr.ProofInvalidVersion)
	}
	if tx.LockTime != 0 {
		return nil, p2eperr.NewProofError(p2eperr.ProofInvalidLocktime)
	}
	if len(tx.TxOut) != 1 || tx.TxOut[0].Value != ProofBurnValue || len(tx.TxOut[0].PkScript) != 0 {
		return nil, p2eperr.NewProofError(p2eperr.ProofInvalidProofOutput)
	}

	hashCache := txscript.NewTxSigHashes(tx, txscript.NewCannedPrevOutputFetcher(nil, 0))

	for i, in := range tx.TxIn {
		prevTx, err := oracle.GetTx(&in.PreviousOutPoint.Hash)
		if err != nil {
			return nil, err
		}
		if int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
			return nil, p2eperr.NewProofErrorAt(p2eperr.ProofMissingUTXO, i)
		}
		prevOut := prevTx.TxOut[in.PreviousOutPoint.Index]

		if !signer.IsP2WKH(prevOut.PkScript) {
			return nil, p2eperr.NewProofErrorAt(p2eperr.ProofInvalidInputType, i)
		}

		unspent, err := oracle.IsUnspent(in.PreviousOutPoint)
		if err != nil {
			return nil, err
		}
		if !unspent {
			return nil, p2eperr.NewProofErrorAt(p2eperr.ProofInputIsSpent, i)
		}

		if !verifyWitnessSignature(tx, hashCache, i, prevOut) {
			return nil, p2eperr.NewProofErrorAt(p2eperr.ProofInvalidInputSignature, i)
		}
	}

	return &ProofTx{tx: tx, state: proofValidated}, nil
}

// verifyWitnessSignature recomputes the BIP-143 sighash_all for input i
// against the synthesized P2WPKH script code and checks the ECDSA
// signature in the witness against the pubkey that also appears in it.
func verifyWitnessSignature(tx *wire.MsgTx, hashCache *txscript.TxSigHashes, i int, prevOut *wire.TxOut) bool {
	witness := tx.TxIn[i].Witness
	if len(witness) != 2 {
		return false
	}
	rawSig, pubKeyBytes := witness[0], witness[1]
	if len(rawSig) < 1 {
		return false
	}

	pubKeyHash := signer.P2WKHPubKeyHash(prevOut.PkScript)
	scriptCode, err := signer.P2WKHScriptCode(pubKeyHash)
	if err != nil {
		return false
	}

	sigHash, err := txscript.CalcWitnessSigHash(
		scriptCode, hashCache, txscript.SigHashAll, tx, i, prevOut.Value,
	)
	if err != nil {
		return false
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	// The witness carries a trailing sighash-type byte (0x01) appended
	// after the DER signature; strip it before DER parsing.
	derSig := rawSig[:len(rawSig)-1]
	sig, err := ecdsa.ParseDERSignature(derSig)
	if err != nil {
		return false
	}

	return sig.Verify(sigHash, pubKey)
}

// Package signer specifies the SigningOracle collaborator and provides a
// concrete ECDSA keyring implementation for v0 P2WPKH inputs, grounded on
// the witness-construction idiom of lnwallet's script_utils.go
// (txscript.NewTxSigHashes + txscript.RawTxInWitnessSignature).
package signer

import "github.com/btcsuite/btcd/wire"

// Oracle is the capability set a SigningOracle must provide: for every
// index in indices, overwrite tx.TxIn[index].Witness with a 2-element
// witness stack (signature, pubkey) under BIP-143 sighash ALL. Indices not
// listed MUST NOT be touched.
type Oracle interface {
	Sign(tx *wire.MsgTx, indices []int) error
}

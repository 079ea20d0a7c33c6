package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// utxoKey bundles what the oracle needs to reproduce a BIP-143 sighash for
// one previously-seen outpoint: the amount committed to the sighash (oracle
// -local metadata per §4.2) and the key that spends it.
type utxoKey struct {
	priv   *btcec.PrivateKey
	amount btcutil.Amount
}

// Keyring is a SigningOracle backed by an in-memory map of outpoint to
// private key, in the spirit of lnwallet's direct use of *btcec.PrivateKey
// with txscript.RawTxInWitnessSignature rather than a remote HSM/oracle
// process.
type Keyring struct {
	utxos map[wire.OutPoint]utxoKey
}

// NewKeyring returns an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{utxos: make(map[wire.OutPoint]utxoKey)}
}

// AddUTXO registers the private key and committed amount for a v0 P2WPKH
// output the keyring should be able to sign for.
func (k *Keyring) AddUTXO(outpoint wire.OutPoint, priv *btcec.PrivateKey, amount btcutil.Amount) {
	k.utxos[outpoint] = utxoKey{priv: priv, amount: amount}
}

// Sign implements signer.Oracle: for each index, overwrite the witness with
// a 2-element [signature, pubkey] stack under BIP-143 sighash ALL, using the
// implicit P2WPKH script code. Indices not listed are left untouched.
func (k *Keyring) Sign(tx *wire.MsgTx, indices []int) error {
	// Every input is v0 P2WPKH, so the fetcher only has to report a
	// non-taproot previous output for the sighash midstate.
	hashCache := txscript.NewTxSigHashes(tx, txscript.NewCannedPrevOutputFetcher(nil, 0))

	for _, idx := range indices {
		if idx < 0 || idx >= len(tx.TxIn) {
			return fmt.Errorf("signer: index %d out of range (%d inputs)", idx, len(tx.TxIn))
		}

		in := tx.TxIn[idx]
		entry, ok := k.utxos[in.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("signer: no key registered for outpoint %v", in.PreviousOutPoint)
		}

		pubKeyHash := btcutil.Hash160(entry.priv.PubKey().SerializeCompressed())
		scriptCode, err := P2WKHScriptCode(pubKeyHash)
		if err != nil {
			return err
		}

		sig, err := txscript.RawTxInWitnessSignature(
			tx, hashCache, idx, int64(entry.amount), scriptCode,
			txscript.SigHashAll, entry.priv,
		)
		if err != nil {
			return fmt.Errorf("signer: sign input %d: %w", idx, err)
		}

		tx.TxIn[idx].Witness = wire.TxWitness{
			sig,
			entry.priv.PubKey().SerializeCompressed(),
		}
	}

	return nil
}

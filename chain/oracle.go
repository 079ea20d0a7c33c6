// Package chain specifies the ChainOracle collaborator: the narrow,
// synchronous read/broadcast surface the core needs from a full node or
// wallet backend. It never interprets the error beyond propagating it,
// matching §4.1 of the protocol.
package chain

import (
	"errors"
	"math/rand"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrNoSuchOutput is returned when an outpoint references a vout beyond the
// bounds of the transaction it names.
var ErrNoSuchOutput = errors.New("chain: no such output index on transaction")

// Oracle is the capability set a ChainOracle must provide. Implementations
// are synchronous from the core's perspective; the core never parallelizes
// calls to it.
type Oracle interface {
	// GetTx returns the full transaction identified by txid.
	GetTx(txid *chainhash.Hash) (*wire.MsgTx, error)

	// IsUnspent reports whether the referenced output is currently
	// unspent.
	IsUnspent(outpoint wire.OutPoint) (bool, error)

	// PickDecoys returns up to count plausible v0-P2WPKH candidate
	// outpoints drawn by walking backwards from seed's ancestor graph,
	// seeded deterministically by rngSeed. The returned set MUST NOT
	// include seed itself.
	PickDecoys(seed wire.OutPoint, rngSeed int64, count int) ([]wire.OutPoint, error)

	// Broadcast submits tx to the network and returns its txid.
	Broadcast(tx *wire.MsgTx) (*chainhash.Hash, error)
}

// PrevOut looks up the full previous output (value + script) referenced by
// outpoint via GetTx, a convenience used by both the signer and the
// pipeline.
func PrevOut(o Oracle, outpoint wire.OutPoint) (*wire.TxOut, error) {
	tx, err := o.GetTx(&outpoint.Hash)
	if err != nil {
		return nil, err
	}
	if int(outpoint.Index) >= len(tx.TxOut) {
		return nil, ErrNoSuchOutput
	}
	return tx.TxOut[outpoint.Index], nil
}

// NewRand returns a *rand.Rand seeded explicitly from rngSeed. Decoy
// selection must never reach for a hidden global/thread-local source, per
// the protocol's design notes — callers always pass an explicit seed so
// tests stay deterministic.
func NewRand(rngSeed int64) *rand.Rand {
	return rand.New(rand.NewSource(rngSeed))
}

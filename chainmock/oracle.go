// Package chainmock provides an in-memory ChainOracle for tests, in the
// spirit of the teacher's own heavy reliance on hand-rolled in-memory
// fakes in its _test.go files rather than a network-backed double.
package chainmock

import (
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
)

// ErrUnknownTx is returned by GetTx for a txid the mock hasn't seen.
var ErrUnknownTx = errors.New("chainmock: unknown transaction")

// Oracle is a deterministic, in-memory chain.Oracle.
type Oracle struct {
	mu sync.Mutex

	txs       map[chainhash.Hash]*wire.MsgTx
	spent     map[wire.OutPoint]bool
	decoyPool []wire.OutPoint

	Broadcasted []*wire.MsgTx
	BroadcastID chainhash.Hash
}

var _ chain.Oracle = (*Oracle)(nil)

// New returns an empty Oracle.
func New() *Oracle {
	return &Oracle{
		txs:   make(map[chainhash.Hash]*wire.MsgTx),
		spent: make(map[wire.OutPoint]bool),
	}
}

// AddTx registers tx so that GetTx and IsUnspent can see its outputs, and
// returns its txid.
func (o *Oracle) AddTx(tx *wire.MsgTx) chainhash.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()

	txid := tx.TxHash()
	o.txs[txid] = tx.Copy()
	return txid
}

// MarkSpent marks an outpoint as spent for future IsUnspent calls.
func (o *Oracle) MarkSpent(op wire.OutPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spent[op] = true
}

// SetDecoyPool fixes the pool PickDecoys draws from, so tests control
// exactly which outpoints can surface as decoys.
func (o *Oracle) SetDecoyPool(pool []wire.OutPoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decoyPool = append([]wire.OutPoint(nil), pool...)
}

// GetTx implements chain.Oracle.
func (o *Oracle) GetTx(txid *chainhash.Hash) (*wire.MsgTx, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tx, ok := o.txs[*txid]
	if !ok {
		return nil, ErrUnknownTx
	}
	return tx, nil
}

// IsUnspent implements chain.Oracle. Any outpoint that wasn't explicitly
// marked spent is treated as unspent, whether or not its transaction was
// registered and whatever its vout; this lets tests register only the
// transactions they care about.
func (o *Oracle) IsUnspent(op wire.OutPoint) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.spent[op] {
		return false, nil
	}
	return true, nil
}

// PickDecoys deterministically shuffles the configured decoy pool (seeded
// by rngSeed, per the protocol's ban on a hidden global RNG) and returns up
// to count entries, excluding seed.
func (o *Oracle) PickDecoys(seed wire.OutPoint, rngSeed int64, count int) ([]wire.OutPoint, error) {
	o.mu.Lock()
	pool := append([]wire.OutPoint(nil), o.decoyPool...)
	o.mu.Unlock()

	rng := chain.NewRand(rngSeed)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	out := make([]wire.OutPoint, 0, count)
	for _, op := range pool {
		if op == seed {
			continue
		}
		out = append(out, op)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// Broadcast implements chain.Oracle: it records the transaction and returns
// its txid, as if accepted by the network.
func (o *Oracle) Broadcast(tx *wire.MsgTx) (*chainhash.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.Broadcasted = append(o.Broadcasted, tx.Copy())
	txid := tx.TxHash()
	return &txid, nil
}

package fsm

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chainmock"
	"github.com/pay2ep/p2ep/signer"
)

func testPrivKey(t *testing.T, seed byte) *btcec.PrivateKey {
	t.Helper()
	var raw [32]byte
	raw[31] = seed
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv
}

// fundingOutput registers a single-output transaction paying amount to
// priv's P2WPKH address on oracle, and returns the outpoint and script.
func fundingOutput(t *testing.T, oracle *chainmock.Oracle, priv *btcec.PrivateKey, amount btcutil.Amount) (wire.OutPoint, []byte) {
	t.Helper()

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	script, err := signer.P2WKHScript(pubKeyHash)
	if err != nil {
		t.Fatalf("build script: %v", err)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(int64(amount), script))
	txid := oracle.AddTx(tx)

	return wire.OutPoint{Hash: txid, Index: 0}, script
}

// baseTxFixture builds a version-2, lock-time-0 transaction spending
// outpoint with the given outputs.
func baseTxFixture(outpoint wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint})
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx
}

// decoyPool funds n distinct unspent P2WPKH outpoints and registers them on
// oracle as the candidate pool PickDecoys draws from.
func decoyPool(t *testing.T, oracle *chainmock.Oracle, n int) []wire.OutPoint {
	t.Helper()

	pool := make([]wire.OutPoint, n)
	for i := range pool {
		priv := testPrivKey(t, byte(100+i))
		op, _ := fundingOutput(t, oracle, priv, 1_000_000)
		pool[i] = op
	}
	oracle.SetDecoyPool(pool)
	return pool
}

package txpipeline

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

// baseTxFixture builds a version-2, lock-time-0 base transaction spending
// one funded P2WPKH outpoint and carrying the given outputs, ready to feed
// to NewCreatedProof.
func baseTxFixture(outpoint wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx
}

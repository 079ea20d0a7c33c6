package wire2ep

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/txpipeline"
)

func decodeLine(t *testing.T, raw []byte) (string, FrameKind, Message, *p2eperr.ProtocolError) {
	t.Helper()
	id, kind, msg, peerErr, err := Decode([]byte(strings.TrimSpace(string(raw))))
	require.NoError(t, err)
	return id, kind, msg, peerErr
}

func TestVersionRequestRoundTrip(t *testing.T) {
	raw, err := EncodeRequest(DefaultID, VersionMessage{Version: "1.0"})
	require.NoError(t, err)

	id, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, DefaultID, id)
	require.Equal(t, FrameRequest, kind)
	require.Nil(t, peerErr)
	require.Equal(t, VersionMessage{Version: "1.0"}, msg)
}

func TestProofRequestRoundTrip(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(txpipeline.ProofBurnValue, nil))

	raw, err := EncodeRequest(DefaultID, ProofMessage{Transaction: tx})
	require.NoError(t, err)

	_, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, FrameRequest, kind)
	require.Nil(t, peerErr)

	decoded, ok := msg.(ProofMessage)
	require.True(t, ok)
	require.Equal(t, tx.TxHash(), decoded.Transaction.TxHash())
}

func TestUtxosResponseRoundTrip(t *testing.T) {
	utxos := []wire.OutPoint{
		{Hash: chainhash.Hash{1}, Index: 0},
		{Hash: chainhash.Hash{2}, Index: 7},
	}

	raw, err := EncodeResponse(DefaultID, UtxosMessage{Utxos: utxos})
	require.NoError(t, err)

	_, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, FrameResponse, kind)
	require.Nil(t, peerErr)
	require.Equal(t, UtxosMessage{Utxos: utxos}, msg)
}

func TestWitnessesRequestRoundTrip(t *testing.T) {
	bundles := []txpipeline.WitnessBundle{
		{wire.TxWitness{{0x01, 0x02}, {0x03}}},
	}

	original := WitnessesMessage{
		Fees:                   5000,
		ChangeScript:           []byte{0x00, 0x14, 0xaa},
		ReceiverInputPosition:  1,
		ReceiverOutputPosition: 1,
		Witnesses:              bundles,
	}

	raw, err := EncodeRequest(DefaultID, original)
	require.NoError(t, err)

	_, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, FrameRequest, kind)
	require.Nil(t, peerErr)
	require.Equal(t, original, msg)
}

func TestTxidResponseRoundTrip(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, nil))

	original := TxidMessage{Txid: tx.TxHash(), Transaction: tx}

	raw, err := EncodeResponse(DefaultID, original)
	require.NoError(t, err)

	_, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, FrameResponse, kind)
	require.Nil(t, peerErr)

	decoded, ok := msg.(TxidMessage)
	require.True(t, ok)
	require.Equal(t, original.Txid, decoded.Txid)
	require.Equal(t, tx.TxHash(), decoded.Transaction.TxHash())
}

func TestErrorFrameRoundTrip(t *testing.T) {
	pe := p2eperr.NewInvalidVersion("2.0")

	raw, err := EncodeError(DefaultID, pe)
	require.NoError(t, err)

	_, kind, msg, peerErr := decodeLine(t, raw)
	require.Equal(t, FrameError, kind)
	require.Nil(t, msg)
	require.Equal(t, p2eperr.InvalidVersion, peerErr.Kind)
	require.Equal(t, "2.0", peerErr.Tag)
}

func TestInvalidProofErrorRoundTrip(t *testing.T) {
	pe := p2eperr.NewInvalidProof(p2eperr.NewProofErrorAt(p2eperr.ProofInvalidInputType, 3))

	raw, err := EncodeError(DefaultID, pe)
	require.NoError(t, err)

	_, _, _, peerErr := decodeLine(t, raw)
	require.Equal(t, p2eperr.InvalidProof, peerErr.Kind)
	require.Equal(t, p2eperr.ProofInvalidInputType, peerErr.Proof.Kind)
	require.Equal(t, 3, peerErr.Proof.Index)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, _, _, _, err := Decode([]byte(`{"method":"VERSION"`))
	require.Error(t, err)
}

package txpipeline

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/pay2ep/p2ep/chainmock"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/signer"
)

func TestNewCreatedProofShape(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)
	outpoint, _ := fundingOutput(t, oracle, priv, 100_000_000)

	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, 100_000_000)

	baseTx := baseTxFixture(outpoint, wire.NewTxOut(92_000_000, nil), wire.NewTxOut(3_000_000, nil))

	proof, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	tx := proof.Tx()
	require.Len(t, tx.TxOut, 1)
	require.Equal(t, int64(ProofBurnValue), tx.TxOut[0].Value)
	require.Empty(t, tx.TxOut[0].PkScript)
	require.Len(t, tx.TxIn[0].Witness, 2)
	require.False(t, proof.IsValidated())
}

func TestNewCreatedProofRejectsWrongVersion(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)
	outpoint, _ := fundingOutput(t, oracle, priv, 100_000_000)
	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, 100_000_000)

	baseTx := baseTxFixture(outpoint)
	baseTx.Version = 1

	_, err := NewCreatedProof(baseTx, keyring)
	require.Error(t, err)
}

func TestProofRoundTripValidates(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)
	outpoint, _ := fundingOutput(t, oracle, priv, 100_000_000)
	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, 100_000_000)

	baseTx := baseTxFixture(outpoint, wire.NewTxOut(92_000_000, nil), wire.NewTxOut(3_000_000, nil))

	created, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	validated, err := NewValidatedProof(created.Tx(), oracle)
	require.NoError(t, err)
	require.True(t, validated.IsValidated())
}

func TestProofValidationRejectsSpentInput(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)
	outpoint, _ := fundingOutput(t, oracle, priv, 100_000_000)
	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, 100_000_000)

	baseTx := baseTxFixture(outpoint)
	created, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	oracle.MarkSpent(outpoint)

	_, err = NewValidatedProof(created.Tx(), oracle)
	require.Error(t, err)
	var proofErr *p2eperr.ProofError
	require.ErrorAs(t, err, &proofErr)
	require.Equal(t, p2eperr.ProofInputIsSpent, proofErr.Kind)
	require.Equal(t, 0, proofErr.Index)
}

func TestProofValidationRejectsNonP2WKHInput(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)

	// Register a funding tx whose output is a bare P2PKH script, not P2WPKH.
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	p2pkhScript, err := signer.P2WKHScriptCode(pubKeyHash) // DUP HASH160 ... CHECKSIG shape
	require.NoError(t, err)

	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxOut(wire.NewTxOut(100_000_000, p2pkhScript))
	txid := oracle.AddTx(fundingTx)
	outpoint := wire.OutPoint{Hash: txid, Index: 0}

	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, 100_000_000)

	baseTx := baseTxFixture(outpoint)
	created, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	_, err = NewValidatedProof(created.Tx(), oracle)
	require.Error(t, err)
	var proofErr *p2eperr.ProofError
	require.ErrorAs(t, err, &proofErr)
	require.Equal(t, p2eperr.ProofInvalidInputType, proofErr.Kind)
}

func TestProofValidationRejectsMissingUTXO(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)

	// The referenced tx exists, but vout 1 is beyond its single output: a
	// successful lookup that still can't resolve a prevout, distinct from
	// a ChainOracle lookup failure.
	fundingTx := wire.NewMsgTx(2)
	fundingTx.AddTxOut(wire.NewTxOut(100_000_000, nil))
	txid := oracle.AddTx(fundingTx)
	outOfRange := wire.OutPoint{Hash: txid, Index: 1}

	keyring := signer.NewKeyring()
	keyring.AddUTXO(outOfRange, priv, 100_000_000)

	baseTx := baseTxFixture(outOfRange)
	created, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	_, err = NewValidatedProof(created.Tx(), oracle)
	require.Error(t, err)
	var proofErr *p2eperr.ProofError
	require.ErrorAs(t, err, &proofErr)
	require.Equal(t, p2eperr.ProofMissingUTXO, proofErr.Kind)
}

// TestProofValidationPropagatesChainOracleLookupError confirms that a
// genuine ChainOracle failure (as opposed to a lookup that succeeds but
// finds nothing) comes back unwrapped, so the caller can tell "your proof
// is invalid" apart from "the backend hiccuped" per §4.1/§7.
func TestProofValidationPropagatesChainOracleLookupError(t *testing.T) {
	oracle := chainmock.New()
	priv := testPrivKey(t, 1)

	// Never registered with the oracle: GetTx fails outright rather than
	// resolving to a tx with too few outputs.
	unknown := wire.OutPoint{Index: 9}
	keyring := signer.NewKeyring()
	keyring.AddUTXO(unknown, priv, 100_000_000)

	baseTx := baseTxFixture(unknown)
	created, err := NewCreatedProof(baseTx, keyring)
	require.NoError(t, err)

	_, err = NewValidatedProof(created.Tx(), oracle)
	require.Error(t, err)
	require.ErrorIs(t, err, chainmock.ErrUnknownTx)
	var proofErr *p2eperr.ProofError
	require.False(t, errors.As(err, &proofErr))
}

package fsm

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/pay2ep/p2ep/chainmock"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/rpcloop"
	"github.com/pay2ep/p2ep/signer"
)

// runSession drives a SenderFsm against a ReceiverFsm over an in-memory
// duplex pipe and returns each side's terminal error. Only the sender ever
// writes before it has read anything (its VERSION request), and the
// receiver never writes before it has read, so this pairing can't deadlock
// the way two same-role drivers would over a synchronous net.Pipe.
func runSession(t *testing.T, sender *SenderFsm, receiver *ReceiverFsm) (senderErr, receiverErr error) {
	t.Helper()

	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	senderCh := make(chan error, 1)
	receiverCh := make(chan error, 1)
	go func() { senderCh <- rpcloop.Run(senderConn, time.Second, sender) }()
	go func() { receiverCh <- rpcloop.Run(receiverConn, time.Second, receiver) }()

	return <-senderCh, <-receiverCh
}

func newHappyPathSession(t *testing.T, rngSeed int64) (oracle *chainmock.Oracle, sender *SenderFsm, receiver *ReceiverFsm) {
	t.Helper()

	oracle = chainmock.New()
	senderPriv := testPrivKey(t, 1)
	receiverPriv := testPrivKey(t, 2)

	senderOutpoint, _ := fundingOutput(t, oracle, senderPriv, 100_000_000)
	receiverOutpoint, receiverScript := fundingOutput(t, oracle, receiverPriv, 200_000_000)
	decoyPool(t, oracle, decoyCount)

	changeScript, err := signer.P2WKHScript(btcutil.Hash160(senderPriv.PubKey().SerializeCompressed()))
	require.NoError(t, err)

	baseTx := baseTxFixture(senderOutpoint,
		wire.NewTxOut(92_000_000, changeScript),
		wire.NewTxOut(3_000_000, receiverScript),
	)

	senderKeyring := signer.NewKeyring()
	senderKeyring.AddUTXO(senderOutpoint, senderPriv, 100_000_000)

	receiverKeyring := signer.NewKeyring()
	receiverKeyring.AddUTXO(receiverOutpoint, receiverPriv, 200_000_000)

	sender = NewSenderFsm(baseTx, 1, oracle, senderKeyring)
	receiver = NewReceiverFsm(receiverOutpoint, receiverScript, 3_000_000, rngSeed, oracle, receiverKeyring)

	return oracle, sender, receiver
}

func TestSessionHappyPathBroadcastsFinalTx(t *testing.T) {
	oracle, sender, receiver := newHappyPathSession(t, 42)

	senderErr, receiverErr := runSession(t, sender, receiver)
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	require.Equal(t, sender.Txid(), receiver.Txid())
	require.Len(t, oracle.Broadcasted, 1)

	tx := oracle.Broadcasted[0]
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(96_995_000), tx.TxOut[0].Value)
	require.Equal(t, int64(203_000_000), tx.TxOut[1].Value)
}

func TestSessionAbortsWhenOfferedCandidateIsSpent(t *testing.T) {
	oracle, sender, receiver := newHappyPathSession(t, 42)

	// Mark one decoy outpoint spent after the pool is built; PickDecoys
	// itself doesn't filter by spent status (the real chain RPC does), so
	// it can still land in the offered candidate list for the sender to
	// reject, just as an adversarial or stale decoy source might.
	spent := wire.OutPoint{Index: 999}
	oracle.MarkSpent(spent)
	fresh := decoyPool(t, oracle, decoyCount-1)
	oracle.SetDecoyPool(append([]wire.OutPoint{spent}, fresh...))

	senderErr, receiverErr := runSession(t, sender, receiver)

	require.Error(t, senderErr)
	var senderPeerErr *p2eperr.Error
	require.True(t, errAs(senderErr, &senderPeerErr))
	require.Equal(t, p2eperr.KindProtocol, senderPeerErr.Kind)
	require.Equal(t, p2eperr.InvalidUtxo, senderPeerErr.Protocol.Kind)

	require.Error(t, receiverErr)
	var receiverPeerErr *p2eperr.Error
	require.True(t, errAs(receiverErr, &receiverPeerErr))
	require.Equal(t, p2eperr.KindPeerError, receiverPeerErr.Kind)

	require.Empty(t, oracle.Broadcasted)
}

func TestSessionRejectsFeeUnderflow(t *testing.T) {
	_, sender, receiver := newHappyPathSession(t, 42)
	// Inflate the payout past the sender's actual input value; the sender
	// itself builds and checks a FinalTx per offered candidate before ever
	// sending WITNESSES, so it is the one that first rejects the underflow.
	sender.baseTx.TxOut[1].Value = 200_000_000

	senderErr, receiverErr := runSession(t, sender, receiver)

	require.Error(t, senderErr)
	var senderPeerErr *p2eperr.Error
	require.True(t, errAs(senderErr, &senderPeerErr))
	require.Equal(t, p2eperr.KindProtocol, senderPeerErr.Kind)
	require.Equal(t, p2eperr.InvalidFinalTransaction, senderPeerErr.Protocol.Kind)
	require.Equal(t, p2eperr.NegativeSenderAmount, senderPeerErr.Protocol.Final.Kind)

	require.Error(t, receiverErr)
	var receiverPeerErr *p2eperr.Error
	require.True(t, errAs(receiverErr, &receiverPeerErr))
	require.Equal(t, p2eperr.KindPeerError, receiverPeerErr.Kind)
}

func errAs(err error, target **p2eperr.Error) bool {
	if e, ok := err.(*p2eperr.Error); ok {
		*target = e
		return true
	}
	return false
}

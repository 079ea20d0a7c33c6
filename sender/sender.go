// Package sender is the host-facing entry point for the paying side of a
// session: it owns the TCP dial (or onion-routed dial when Tor is
// configured) and hands the connection to rpcloop.Run driving a
// fsm.SenderFsm, in the spirit of the teacher's newPeer/peer.Start split
// between connection setup and protocol driving.
package sender

import (
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/fsm"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/p2eplog"
	"github.com/pay2ep/p2ep/rpcloop"
	"github.com/pay2ep/p2ep/signer"
)

var log = p2eplog.Logger("SNDR")

// Dialer abstracts the network dial so a Tor-routed dial can be swapped in
// for a plain net.Dial without sender knowing the difference.
type Dialer func(network, address string) (net.Conn, error)

// Sender drives one pay-to-endpoint session as the paying party.
type Sender struct {
	peerAddr            string
	chainOracle         chain.Oracle
	signOracle          signer.Oracle
	baseTx              *wire.MsgTx
	receiverOutputIndex int

	dial         Dialer
	frameTimeout time.Duration
}

// Option configures a Sender beyond its required collaborators.
type Option func(*Sender)

// WithDialer overrides the network dialer, e.g. to route through a local
// Tor SOCKS proxy instead of net.Dial.
func WithDialer(d Dialer) Option {
	return func(s *Sender) { s.dial = d }
}

// WithFrameTimeout overrides the per-frame read timeout RpcLoop enforces.
func WithFrameTimeout(d time.Duration) Option {
	return func(s *Sender) { s.frameTimeout = d }
}

// New builds a Sender for one session against peerAddr, paying from baseTx
// with its receiverOutputIndex'th output as the payment to the receiver.
func New(peerAddr string, oracle chain.Oracle, sign signer.Oracle, baseTx *wire.MsgTx, receiverOutputIndex int, opts ...Option) *Sender {
	s := &Sender{
		peerAddr:            peerAddr,
		chainOracle:         oracle,
		signOracle:          sign,
		baseTx:              baseTx,
		receiverOutputIndex: receiverOutputIndex,
		dial:                net.Dial,
		frameTimeout:        rpcloop.DefaultFrameTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start dials the receiver, runs the four-step exchange to completion, and
// returns the broadcast transaction's id.
func (s *Sender) Start() (chainhash.Hash, error) {
	conn, err := s.dial("tcp", s.peerAddr)
	if err != nil {
		return chainhash.Hash{}, p2eperr.Transport(fmt.Errorf("sender: dial %s: %w", s.peerAddr, err))
	}
	defer conn.Close()

	log.Infof("connected to receiver at %s", s.peerAddr)

	driver := fsm.NewSenderFsm(s.baseTx, s.receiverOutputIndex, s.chainOracle, s.signOracle)
	if err := rpcloop.Run(conn, s.frameTimeout, driver); err != nil {
		return chainhash.Hash{}, err
	}

	log.Infof("session complete, txid=%s", driver.Txid())

	return driver.Txid(), nil
}

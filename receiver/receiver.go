// Package receiver is the host-facing entry point for the payee side of a
// session: it owns the listening socket and drives one fsm.ReceiverFsm per
// accepted connection through rpcloop.Run, adapted from the accept-loop
// idiom of the teacher's server.listener but deliberately serialized to one
// session at a time, since the receiver risks the same UTXO into any
// session it accepts.
package receiver

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/fsm"
	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/p2eplog"
	"github.com/pay2ep/p2ep/rpcloop"
	"github.com/pay2ep/p2ep/signer"
)

var log = p2eplog.Logger("RECV")

// Receiver accepts pay-to-endpoint sessions against a single UTXO, one
// session at a time.
type Receiver struct {
	bindAddr       string
	chainOracle    chain.Oracle
	signOracle     signer.Oracle
	ourUTXO        wire.OutPoint
	expectedScript []byte
	expectedAmount btcutil.Amount

	frameTimeout time.Duration
	listener     net.Listener

	busy    int32 // atomic; 1 while a session is in flight
	closing int32 // atomic
}

// Option configures a Receiver beyond its required collaborators.
type Option func(*Receiver)

// WithFrameTimeout overrides the per-frame read timeout RpcLoop enforces.
func WithFrameTimeout(d time.Duration) Option {
	return func(r *Receiver) { r.frameTimeout = d }
}

// New builds a Receiver that will offer ourUTXO as its candidate input and
// collect expectedAmount to expectedScript before broadcasting.
func New(bindAddr string, oracle chain.Oracle, sign signer.Oracle, ourUTXO wire.OutPoint, expectedScript []byte, expectedAmount btcutil.Amount, opts ...Option) *Receiver {
	r := &Receiver{
		bindAddr:       bindAddr,
		chainOracle:    oracle,
		signOracle:     sign,
		ourUTXO:        ourUTXO,
		expectedScript: expectedScript,
		expectedAmount: expectedAmount,
		frameTimeout:   rpcloop.DefaultFrameTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup binds the listening socket and returns the payment URI a sender
// needs to reach this receiver and pay the expected amount, per §6.
func (r *Receiver) Setup(params *chaincfg.Params) (string, error) {
	l, err := net.Listen("tcp", r.bindAddr)
	if err != nil {
		return "", p2eperr.Transport(fmt.Errorf("receiver: listen %s: %w", r.bindAddr, err))
	}
	r.listener = l

	addr, err := payeeAddress(r.expectedScript, params)
	if err != nil {
		l.Close()
		return "", err
	}

	amount := strconv.FormatFloat(r.expectedAmount.ToBTC(), 'f', 8, 64)
	uri := fmt.Sprintf("bitcoin:%s?amount=%s&endpoint=%s",
		addr, amount, l.Addr().String())

	log.Infof("listening on %s, uri=%s", l.Addr(), uri)

	return uri, nil
}

// Mainloop accepts connections on the bound listener and drives each one to
// completion with a fresh fsm.ReceiverFsm, one at a time: each session runs
// inline before the next Accept, so a second peer connecting while a
// session is in flight is not accepted until that session ends, since only
// one ReceiverFsm may ever touch ourUTXO. It returns as
// soon as one session broadcasts successfully, since ourUTXO is spent at
// that point and no further session could ever succeed; a session that
// fails is logged and the loop keeps accepting. rngSeed seeds each
// session's decoy walk and candidate-position draw.
func (r *Receiver) Mainloop(rngSeed int64) error {
	if r.listener == nil {
		return fmt.Errorf("receiver: Mainloop called before Setup")
	}

	for atomic.LoadInt32(&r.closing) == 0 {
		conn, err := r.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&r.closing) != 0 {
				return nil
			}
			return p2eperr.Transport(fmt.Errorf("receiver: accept: %w", err))
		}

		if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
			log.Warnf("rejecting %s: a session is already in flight", conn.RemoteAddr())
			conn.Close()
			continue
		}

		if ok := r.runSession(conn, rngSeed); ok {
			return nil
		}
	}

	return nil
}

// Close unblocks a pending Accept and stops Mainloop.
func (r *Receiver) Close() error {
	atomic.StoreInt32(&r.closing, 1)
	if r.listener != nil {
		return r.listener.Close()
	}
	return nil
}

// runSession drives one accepted connection to completion and reports
// whether it finished successfully.
func (r *Receiver) runSession(conn net.Conn, rngSeed int64) bool {
	defer conn.Close()
	defer atomic.StoreInt32(&r.busy, 0)

	log.Infof("session started with %s", conn.RemoteAddr())

	driver := fsm.NewReceiverFsm(r.ourUTXO, r.expectedScript, r.expectedAmount, rngSeed, r.chainOracle, r.signOracle)
	if err := rpcloop.Run(conn, r.frameTimeout, driver); err != nil {
		log.Errorf("session with %s failed: %v", conn.RemoteAddr(), err)
		return false
	}

	log.Infof("session with %s complete, txid=%s", conn.RemoteAddr(), driver.Txid())
	return true
}

func payeeAddress(script []byte, params *chaincfg.Params) (btcutil.Address, error) {
	if !signer.IsP2WKH(script) {
		return nil, p2eperr.Protocol(p2eperr.NewExpected("p2wkh expected_script"))
	}
	return btcutil.NewAddressWitnessPubKeyHash(signer.P2WKHPubKeyHash(script), params)
}

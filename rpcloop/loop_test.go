package rpcloop

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/wire2ep"
)

// scriptedDriver plays back a fixed Setup message and a fixed sequence of
// Step responses, recording every message it was handed.
type scriptedDriver struct {
	role  Role
	setup wire2ep.Message

	responses []wire2ep.Message
	terminal  []bool
	errs      []error

	step     int
	received []wire2ep.Message
}

func (d *scriptedDriver) Role() Role { return d.role }

func (d *scriptedDriver) Setup() (wire2ep.Message, error) { return d.setup, nil }

func (d *scriptedDriver) Step(msg wire2ep.Message) (wire2ep.Message, bool, error) {
	d.received = append(d.received, msg)
	i := d.step
	d.step++
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	if err != nil {
		return nil, false, err
	}
	return d.responses[i], d.terminal[i], nil
}

func TestRunHappyPathSingleStep(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sender := &scriptedDriver{
		role:      RoleSender,
		setup:     wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion},
		responses: []wire2ep.Message{nil},
		terminal:  []bool{true},
	}
	receiver := &scriptedDriver{
		role:      RoleReceiver,
		responses: []wire2ep.Message{wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion}},
		terminal:  []bool{true},
	}

	errCh := make(chan error, 2)
	go func() { errCh <- Run(clientConn, time.Second, sender) }()
	go func() { errCh <- Run(serverConn, time.Second, receiver) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	require.Len(t, receiver.received, 1)
	require.Equal(t, wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion}, receiver.received[0])
}

func TestRunRejectsWrongFrameDirection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// A RoleSender only ever accepts Response frames. Hand-write a
	// Request-shaped line in reply to its setup frame and confirm the loop
	// rejects it as a protocol violation rather than decoding it.
	sender := &scriptedDriver{
		role:  RoleSender,
		setup: wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- Run(clientConn, time.Second, sender) }()

	buf := make([]byte, 256)
	n, err := serverConn.Read(buf)
	require.NoError(t, err)
	_ = buf[:n] // the setup VERSION request, discarded

	raw, err := wire2ep.EncodeRequest(wire2ep.DefaultID, wire2ep.VersionMessage{Version: wire2ep.ProtocolVersion})
	require.NoError(t, err)
	_, err = serverConn.Write(raw)
	require.NoError(t, err)

	runErr := <-errCh
	require.Error(t, runErr)

	var perr *p2eperr.Error
	require.True(t, asP2EPErr(runErr, &perr))
	require.Equal(t, p2eperr.KindProtocol, perr.Kind)
	require.Equal(t, p2eperr.UnexpectedMessage, perr.Protocol.Kind)
}

func TestRunPropagatesStepProtocolError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sender := &scriptedDriver{
		role:      RoleSender,
		setup:     wire2ep.VersionMessage{Version: "2.0"},
		responses: []wire2ep.Message{nil},
		terminal:  []bool{true},
	}
	receiver := &scriptedDriver{
		role: RoleReceiver,
		errs: []error{p2eperr.Protocol(p2eperr.NewInvalidVersion("2.0"))},
	}

	errCh := make(chan error, 2)
	go func() { errCh <- Run(clientConn, time.Second, sender) }()
	go func() { errCh <- Run(serverConn, time.Second, receiver) }()

	errSender := <-errCh
	errReceiver := <-errCh

	var perr *p2eperr.Error
	require.True(t, asP2EPErr(errReceiver, &perr))
	require.Equal(t, p2eperr.KindProtocol, perr.Kind)
	require.Equal(t, p2eperr.InvalidVersion, perr.Protocol.Kind)

	require.True(t, asP2EPErr(errSender, &perr))
	require.Equal(t, p2eperr.KindPeerError, perr.Kind)
}

func TestRunTimesOutOnTruncatedFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		// Write a truncated frame with no trailing newline, then never
		// write again.
		fmt.Fprint(clientConn, `{"method":"VERSION"`)
	}()

	receiver := &scriptedDriver{role: RoleReceiver}

	err := Run(serverConn, 150*time.Millisecond, receiver)
	require.Error(t, err)

	var perr *p2eperr.Error
	require.True(t, asP2EPErr(err, &perr))
	require.Equal(t, p2eperr.KindTransport, perr.Kind)
}

func asP2EPErr(err error, target **p2eperr.Error) bool {
	if e, ok := err.(*p2eperr.Error); ok {
		*target = e
		return true
	}
	return false
}

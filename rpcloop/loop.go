// Package rpcloop drives a session state machine over a duplex byte
// stream using the wire2ep codec, in the line-oriented read/dispatch
// idiom of the teacher's peer.go readHandler/writeHandler split — adapted
// here to one synchronous request/response pair at a time rather than a
// fire-and-forget outgoing queue, since §5 forbids pipelining.
package rpcloop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pay2ep/p2ep/p2eperr"
	"github.com/pay2ep/p2ep/wire2ep"
)

// DefaultFrameTimeout is the per-frame read deadline recommended by §4.6.
const DefaultFrameTimeout = 10 * time.Second

// Role says which side of the exchange a Driver plays: it fixes which
// frame shape is written (Request vs Response) and which is expected on
// read.
type Role int

const (
	// RoleSender writes Request frames and expects Response frames.
	RoleSender Role = iota
	// RoleReceiver expects Request frames and writes Response frames.
	RoleReceiver
)

// Driver is the state object RpcLoop drives. Setup is called once before
// the read loop starts (the sender's VERSION frame); Step is called once
// per successfully decoded, correctly-directed incoming message.
type Driver interface {
	Role() Role

	// Setup returns an optional outbound message to send before entering
	// the read loop. Receivers return (nil, nil): they never speak first.
	Setup() (wire2ep.Message, error)

	// Step consumes one incoming message and returns the outbound message
	// to send in response (nil for none), whether the session has reached
	// its terminal state, and an error if the FSM rejects the message.
	Step(msg wire2ep.Message) (outbound wire2ep.Message, terminal bool, err error)
}

// Run drives driver to completion over conn: it optionally writes a setup
// frame, then loops reading one line at a time with a per-frame deadline,
// dispatching each to driver.Step, and writing back whatever driver
// produces, until driver reports terminal or a fatal error occurs.
//
// Protocol errors the driver raises are serialized to the peer as one
// best-effort error frame before being returned. Transport/encoding
// errors abort without a further write attempt, per §7.
func Run(conn net.Conn, frameTimeout time.Duration, driver Driver) error {
	if frameTimeout <= 0 {
		frameTimeout = DefaultFrameTimeout
	}

	writer := bufio.NewWriter(conn)
	reader := bufio.NewReader(conn)

	setup, err := driver.Setup()
	if err != nil {
		return err
	}
	if setup != nil {
		if err := writeFrame(writer, wire2ep.DefaultID, driver.Role(), setup); err != nil {
			return p2eperr.Transport(err)
		}
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(frameTimeout)); err != nil {
			return p2eperr.Transport(err)
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if line == "" || !errors.Is(err, io.EOF) {
				return p2eperr.Transport(classifyReadError(err))
			}
			// Fall through: a non-empty final line without a trailing
			// newline (peer closed right after writing) is still worth
			// trying to decode before giving up. A partial line cut off
			// by the read deadline is a timeout, not a frame.
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err != nil {
				return p2eperr.Transport(classifyReadError(err))
			}
			continue
		}

		id, kind, msg, peerErr, decodeErr := wire2ep.Decode([]byte(trimmed))
		if decodeErr != nil {
			return p2eperr.Encoding(decodeErr)
		}
		if peerErr != nil {
			return p2eperr.PeerError(peerErr)
		}

		if !directionMatches(driver.Role(), kind) {
			protoErr := p2eperr.ErrUnexpectedMessage
			_ = conn.SetWriteDeadline(time.Now().Add(frameTimeout))
			writeErrorFrame(writer, id, protoErr)
			return p2eperr.Protocol(protoErr)
		}

		outbound, terminal, stepErr := driver.Step(msg)
		if stepErr != nil {
			var perr *p2eperr.Error
			if errors.As(stepErr, &perr) && perr.Kind == p2eperr.KindProtocol {
				_ = conn.SetWriteDeadline(time.Now().Add(frameTimeout))
				writeErrorFrame(writer, id, perr.Protocol)
			}
			return stepErr
		}

		if outbound != nil {
			if err := writeFrame(writer, id, driver.Role(), outbound); err != nil {
				return p2eperr.Transport(err)
			}
		}

		if terminal {
			return nil
		}
	}
}

// directionMatches reports whether a decoded frame's shape is the one this
// role is allowed to receive: the sender only accepts Responses, the
// receiver only accepts Requests.
func directionMatches(role Role, kind wire2ep.FrameKind) bool {
	switch role {
	case RoleSender:
		return kind == wire2ep.FrameResponse
	case RoleReceiver:
		return kind == wire2ep.FrameRequest
	default:
		return false
	}
}

// writeFrame encodes msg as the frame shape this role emits (Requests for
// the sender, Responses for the receiver) and flushes it immediately.
func writeFrame(w *bufio.Writer, id string, role Role, msg wire2ep.Message) error {
	var (
		raw []byte
		err error
	)

	switch role {
	case RoleSender:
		raw, err = wire2ep.EncodeRequest(id, msg)
	case RoleReceiver:
		raw, err = wire2ep.EncodeResponse(id, msg)
	default:
		return fmt.Errorf("rpcloop: unknown role %v", role)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(raw); err != nil {
		return err
	}
	return w.Flush()
}

// writeErrorFrame makes a best-effort attempt to notify the peer of a
// locally-raised protocol error; failures to write it are swallowed, since
// the local error is what ultimately propagates. Run bounds the attempt
// with a write deadline of one frame timeout.
func writeErrorFrame(w *bufio.Writer, id string, pe *p2eperr.ProtocolError) {
	raw, err := wire2ep.EncodeError(id, pe)
	if err != nil {
		return
	}
	if _, err := w.Write(raw); err != nil {
		return
	}
	_ = w.Flush()
}

func classifyReadError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("rpcloop: timeout waiting for frame: %w", err)
	}
	return err
}

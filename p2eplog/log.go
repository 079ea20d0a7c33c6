// Package p2eplog wires up the btclog subsystem loggers shared by every
// package in this module, following the same backend-plus-per-subsystem
// pattern used throughout the btcsuite/lnd family.
package p2eplog

import (
	"os"

	"github.com/btcsuite/btclog"
)

// Backend is the logging backend all subsystem loggers write through. It
// writes to stdout.
var Backend = btclog.NewBackend(os.Stdout)

// subsystems maps a short subsystem tag to the logger callers obtained for
// it, so SetLevel can reach every logger that's been handed out so far.
var subsystems = make(map[string]btclog.Logger)

// Logger returns the (cached) logger for the given subsystem tag, creating
// it against Backend on first use. Tags are short, uppercase, and match the
// package they instrument (e.g. "RECV", "SNDR", "P2PD"), mirroring the
// subsystem tags lnd assigns its own packages (PEER, SRVR, RPCS, ...).
func Logger(subsystem string) btclog.Logger {
	if l, ok := subsystems[subsystem]; ok {
		return l
	}
	l := Backend.Logger(subsystem)
	subsystems[subsystem] = l
	return l
}

// SetLevel sets the log level on the logger for one subsystem tag, if that
// logger has been created; otherwise it does nothing. SetLevelAll reaches
// every logger created so far.
func SetLevel(subsystem string, level btclog.Level) {
	if l, ok := subsystems[subsystem]; ok {
		l.SetLevel(level)
	}
}

// SetLevelAll sets the log level on every subsystem logger created so far.
func SetLevelAll(level btclog.Level) {
	for _, l := range subsystems {
		l.SetLevel(level)
	}
}

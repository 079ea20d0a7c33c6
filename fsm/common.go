// Package fsm implements the two session state machines of §4.4/§4.5:
// SenderFsm drives the paying side, ReceiverFsm drives the payee side.
// Both satisfy rpcloop.Driver so the same RpcLoop.Run drives either one
// over a duplex byte stream.
package fsm

import (
	"errors"

	"github.com/pay2ep/p2ep/p2eperr"
)

// candidateListLength is the fixed cardinality of the receiver's offered
// UTXO set; §9's open questions note this is hard-coded by the protocol
// version and not negotiated.
const candidateListLength = 100

// decoyCount is the number of decoys PickDecoys must supply to fill out
// candidateListLength alongside the receiver's real UTXO.
const decoyCount = candidateListLength - 1

// unexpected builds the Protocol error for "this message doesn't match
// what the current state expects" with the tag naming what was expected.
func unexpected(expectedTag string) error {
	return p2eperr.Protocol(p2eperr.NewExpected(expectedTag))
}

// wrapFinalTxErr folds a *p2eperr.FinalTxError returned by the pipeline
// into the session's Protocol error taxonomy; any other error is treated
// as bubbling up from a collaborator (ChainOracle/SigningOracle).
func wrapFinalTxErr(err error) error {
	var fe *p2eperr.FinalTxError
	if errors.As(err, &fe) {
		return p2eperr.Protocol(p2eperr.NewInvalidFinalTransaction(fe))
	}
	return p2eperr.External(err)
}

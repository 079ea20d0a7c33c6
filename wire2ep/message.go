package wire2ep

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/txpipeline"
)

// Message is the set of domain-level frames the FSMs exchange; the codec
// translates between this and the JSON envelope on the wire.
type Message interface {
	isMessage()
}

// VersionMessage carries the VERSION request/response payload.
type VersionMessage struct {
	Version string
}

func (VersionMessage) isMessage() {}

// ProofMessage carries the PROOF request payload.
type ProofMessage struct {
	Transaction *wire.MsgTx
}

func (ProofMessage) isMessage() {}

// UtxosMessage carries the Utxos response payload.
type UtxosMessage struct {
	Utxos []wire.OutPoint
}

func (UtxosMessage) isMessage() {}

// WitnessesMessage carries the WITNESSES request payload. Witnesses is
// indexed [candidate][sender-input], matching §4.4/§6.
type WitnessesMessage struct {
	Fees                   btcutil.Amount
	ChangeScript           []byte
	ReceiverInputPosition  uint32
	ReceiverOutputPosition uint32
	Witnesses              []txpipeline.WitnessBundle
}

func (WitnessesMessage) isMessage() {}

// TxidMessage carries the Txid response payload.
type TxidMessage struct {
	Txid        chainhash.Hash
	Transaction *wire.MsgTx
}

func (TxidMessage) isMessage() {}

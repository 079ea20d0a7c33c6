package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// P2WKHScriptCode synthesizes the implicit BIP-143 script code for a v0
// P2WPKH output: DUP HASH160 <pkh> EQUALVERIFY CHECKSIG. Grounded on the
// script-building idiom of lnwallet/script_utils.go (txscript.ScriptBuilder
// used to hand-assemble a redeem/witness script rather than reach for a
// higher-level address helper).
func P2WKHScriptCode(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != 20 {
		return nil, fmt.Errorf("signer: pubkey hash must be 20 bytes, got %d", len(pubKeyHash))
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(pubKeyHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)
	return builder.Script()
}

// IsP2WKH reports whether script is a standard v0 P2WPKH output script:
// exactly 22 bytes, 0x00 0x14 <20-byte-hash>.
func IsP2WKH(script []byte) bool {
	return len(script) == 22 && script[0] == txscript.OP_0 && script[1] == txscript.OP_DATA_20
}

// P2WKHPubKeyHash extracts the 20-byte hash from a script that IsP2WKH has
// already validated.
func P2WKHPubKeyHash(script []byte) []byte {
	return script[2:22]
}

// P2WKHScript builds the scriptPubKey for a given 20-byte pubkey hash.
func P2WKHScript(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != 20 {
		return nil, fmt.Errorf("signer: pubkey hash must be 20 bytes, got %d", len(pubKeyHash))
	}
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(pubKeyHash)
	return builder.Script()
}

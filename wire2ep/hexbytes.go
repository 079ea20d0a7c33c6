// Package wire2ep implements the WireCodec of §4.6/§6: one JSON object per
// newline-terminated line, with Request/Response/Error envelope shapes and
// hex-encoded binary fields.
package wire2ep

import (
	"encoding/hex"
	"encoding/json"
)

// HexBytes marshals as a lowercase hex string and unmarshals the same way,
// used for every binary field the wire contract names as "hex bytes" or
// "hex-encoded".
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

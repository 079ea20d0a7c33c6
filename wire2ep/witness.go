package wire2ep

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// maxWitnessItemSize bounds a single witness-stack item's length, generous
// enough for the largest plausible signature or compressed pubkey this
// protocol ever produces.
const maxWitnessItemSize = 10_000

// SerializeWitness consensus-encodes a single witness stack: a CompactSize
// item count followed by each item as a CompactSize length plus bytes,
// exactly as a witness stack appears inside a serialized segwit
// transaction. Built directly on the var-int/var-bytes primitives
// wire.MsgTx itself uses to (de)serialize a witness.
func SerializeWitness(w wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, 0, uint64(len(w))); err != nil {
		return nil, err
	}
	for _, item := range w {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DeserializeWitness is the inverse of SerializeWitness.
func DeserializeWitness(data []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(data)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}

	witness := make(wire.TxWitness, count)
	for i := range witness {
		item, err := wire.ReadVarBytes(r, 0, maxWitnessItemSize, "witness item")
		if err != nil {
			return nil, err
		}
		witness[i] = item
	}

	if r.Len() != 0 {
		return nil, io.ErrUnexpectedEOF
	}

	return witness, nil
}

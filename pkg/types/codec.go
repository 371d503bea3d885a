package types

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Marshal produces the canonical byte form of v. Every place in the
// system that hashes, signs or persists a structure goes through here:
// struct fields encode in declaration order via their tags, map keys are
// sorted, and fixed-size byte types carry their own encoders so the
// output is identical across hosts.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "marshaling canonical form")
	}

	return buf.Bytes(), nil
}

func Unmarshal(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "unmarshaling canonical form")
	}
	return nil
}

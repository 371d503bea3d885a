package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// HashSize is the size of all digests in the system. SHA-256 is the only
// hash algorithm used for blocks, transactions, tries and contract ids.
const HashSize = sha256.Size

type Hash [HashSize]byte

var ZeroHash Hash

func HashBytes(b ...[]byte) Hash {
	h := sha256.New()
	for _, p := range b {
		h.Write(p)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.Errorf("bad hash length %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrap(err, "decoding hash hex")
	}
	return HashFromBytes(b)
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(h[:])
}

func (h *Hash) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != HashSize {
		return errors.Errorf("bad hash length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

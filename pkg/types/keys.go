package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
	SeedSize      = ed25519.SeedSize
)

// PublicKey is an ed25519 public key. It doubles as the canonical wallet
// address; no further digest is applied.
type PublicKey [PublicKeySize]byte

type Signature [SignatureSize]byte

var (
	ZeroPublicKey PublicKey
	ZeroSignature Signature
)

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, errors.Errorf("bad public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, errors.Wrap(err, "decoding public key hex")
	}
	return PublicKeyFromBytes(b)
}

func (pk PublicKey) Bytes() []byte { return pk[:] }

func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

func (pk PublicKey) IsZero() bool { return pk == ZeroPublicKey }

func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig[:])
}

func (pk PublicKey) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(pk[:])
}

func (pk *PublicKey) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != PublicKeySize {
		return errors.Errorf("bad public key length %d", len(b))
	}
	copy(pk[:], b)
	return nil
}

func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, errors.Errorf("bad signature length %d", len(b))
	}
	copy(s[:], b)
	return s, nil
}

func (s Signature) Bytes() []byte { return s[:] }

func (s Signature) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(s[:])
}

func (s *Signature) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != SignatureSize {
		return errors.Errorf("bad signature length %d", len(b))
	}
	copy(s[:], b)
	return nil
}

// PrivateKey wraps an ed25519 private key for signing transactions and
// blocks.
type PrivateKey struct {
	k ed25519.PrivateKey
}

func GenerateKey() (*PrivateKey, error) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating ed25519 key")
	}
	return &PrivateKey{k: k}, nil
}

func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, errors.Errorf("bad seed length %d", len(seed))
	}
	return &PrivateKey{k: ed25519.NewKeyFromSeed(seed)}, nil
}

func (p *PrivateKey) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], p.k.Public().(ed25519.PublicKey))
	return pk
}

func (p *PrivateKey) Seed() []byte { return p.k.Seed() }

func (p *PrivateKey) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(p.k, msg))
	return sig
}

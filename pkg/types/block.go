package types

import (
	"github.com/pkg/errors"
)

// Block links the chain. The header fields hash and sign over the
// canonical encoding of their preimages; the body commits to TxRoot.
type Block struct {
	Height    uint64         `msgpack:"h"`
	Ts        int64          `msgpack:"t"`
	PrevHash  Hash           `msgpack:"p"`
	TxRoot    Hash           `msgpack:"x"`
	StateRoot Hash           `msgpack:"a"`
	Signer    PublicKey      `msgpack:"w"`
	Signature Signature      `msgpack:"sg"`
	Hash      Hash           `msgpack:"i"`
	Txs       []*Transaction `msgpack:"b"`
}

// blockSignPreimage is the canonical header without signature and hash;
// it is what the authority signs.
type blockSignPreimage struct {
	Height    uint64    `msgpack:"h"`
	Ts        int64     `msgpack:"t"`
	PrevHash  Hash      `msgpack:"p"`
	TxRoot    Hash      `msgpack:"x"`
	StateRoot Hash      `msgpack:"a"`
	Signer    PublicKey `msgpack:"w"`
}

// blockHashPreimage additionally covers the signature; its digest is the
// block hash.
type blockHashPreimage struct {
	Height    uint64    `msgpack:"h"`
	Ts        int64     `msgpack:"t"`
	PrevHash  Hash      `msgpack:"p"`
	TxRoot    Hash      `msgpack:"x"`
	StateRoot Hash      `msgpack:"a"`
	Signer    PublicKey `msgpack:"w"`
	Signature Signature `msgpack:"sg"`
}

func (b *Block) Marshal() ([]byte, error) { return Marshal(b) }

func (b *Block) Unmarshal(d []byte) error { return Unmarshal(d, b) }

func (b *Block) SigningBytes() ([]byte, error) {
	pre := blockSignPreimage{
		Height:    b.Height,
		Ts:        b.Ts,
		PrevHash:  b.PrevHash,
		TxRoot:    b.TxRoot,
		StateRoot: b.StateRoot,
		Signer:    b.Signer,
	}

	d, err := Marshal(&pre)
	if err != nil {
		return nil, errors.Wrap(err, "encoding block signing preimage")
	}

	return d, nil
}

func (b *Block) ComputeHash() (Hash, error) {
	pre := blockHashPreimage{
		Height:    b.Height,
		Ts:        b.Ts,
		PrevHash:  b.PrevHash,
		TxRoot:    b.TxRoot,
		StateRoot: b.StateRoot,
		Signer:    b.Signer,
		Signature: b.Signature,
	}

	d, err := Marshal(&pre)
	if err != nil {
		return Hash{}, errors.Wrap(err, "encoding block hash preimage")
	}

	return HashBytes(d), nil
}

// Seal signs the header with the given key and fills in Signer,
// Signature and Hash.
func (b *Block) Seal(key *PrivateKey) error {
	b.Signer = key.Public()

	d, err := b.SigningBytes()
	if err != nil {
		return err
	}
	b.Signature = key.Sign(d)

	b.Hash, err = b.ComputeHash()
	return err
}

func (b *Block) VerifySignature() error {
	d, err := b.SigningBytes()
	if err != nil {
		return err
	}
	if !b.Signer.Verify(d, b.Signature) {
		return errors.New("block signature invalid")
	}
	return nil
}

// TxMerkleRoot computes the Merkle root over the transactions' hashes.
// An empty set yields the zero hash; odd levels duplicate the final
// node.
func TxMerkleRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return ZeroHash
	}

	level := make([]Hash, 0, len(txs))
	for _, t := range txs {
		level = append(level, t.Hash)
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, HashBytes(level[i][:], level[i+1][:]))
		}
		level = next
	}

	return level[0]
}

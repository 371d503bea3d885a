package types

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ContractID is the deterministic address of a deployed contract:
// sha256(deployer public key || deployer nonce before the deploy tx ||
// code hash).
type ContractID Hash

func DeriveContractID(deployer PublicKey, nonceBefore uint64, codeHash Hash) ContractID {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], nonceBefore)

	return ContractID(HashBytes(deployer[:], nonce[:], codeHash[:]))
}

func ContractIDFromBytes(b []byte) (ContractID, error) {
	h, err := HashFromBytes(b)
	return ContractID(h), err
}

func ContractIDFromHex(s string) (ContractID, error) {
	h, err := HashFromHex(s)
	return ContractID(h), err
}

func (c ContractID) Bytes() []byte { return c[:] }

func (c ContractID) String() string { return Hash(c).String() }

func (c ContractID) IsZero() bool { return Hash(c).IsZero() }

func (c ContractID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(c[:])
}

func (c *ContractID) DecodeMsgpack(dec *msgpack.Decoder) error {
	return (*Hash)(c).DecodeMsgpack(dec)
}

type AddressKind uint8

const (
	AddressWallet AddressKind = iota + 1
	AddressContract
)

// Address is a tagged recipient: either a wallet public key or a
// contract id. The kind discriminant leads the canonical encoding.
type Address struct {
	Kind     AddressKind `msgpack:"k"`
	Wallet   PublicKey   `msgpack:"w"`
	Contract ContractID  `msgpack:"c"`
}

func WalletAddress(pk PublicKey) Address {
	return Address{Kind: AddressWallet, Wallet: pk}
}

func ContractAddress(id ContractID) Address {
	return Address{Kind: AddressContract, Contract: id}
}

func (a Address) Valid() error {
	switch a.Kind {
	case AddressWallet:
		if a.Wallet.IsZero() {
			return errors.New("wallet address missing key")
		}
	case AddressContract:
		if a.Contract.IsZero() {
			return errors.New("contract address missing id")
		}
	default:
		return errors.Errorf("unknown address kind %d", a.Kind)
	}
	return nil
}

// Digest is the 32-byte key the address occupies in the accounts
// namespace and trie. Wallet addresses are the public key itself.
func (a Address) Digest() [32]byte {
	switch a.Kind {
	case AddressContract:
		return [32]byte(a.Contract)
	default:
		return [32]byte(a.Wallet)
	}
}

func (a Address) String() string {
	if a.Kind == AddressContract {
		return a.Contract.String()
	}
	return a.Wallet.String()
}

func (a Address) Equal(b Address) bool {
	return a.Kind == b.Kind && a.Wallet == b.Wallet && a.Contract == b.Contract
}

package types

import (
	"github.com/pkg/errors"
)

type PayloadKind uint8

const (
	PayloadTransfer PayloadKind = iota + 1
	PayloadDeploy
	PayloadCall
	PayloadData
)

// Payload is the tagged per-kind body of a transaction. Only the field
// matching Kind is populated.
type Payload struct {
	Kind     PayloadKind    `msgpack:"k"`
	Transfer *TransferData  `msgpack:"t,omitempty"`
	Deploy   *DeployData    `msgpack:"d,omitempty"`
	Call     *CallData      `msgpack:"c,omitempty"`
	Data     []byte         `msgpack:"b,omitempty"`
}

type TransferData struct {
	Amount uint64 `msgpack:"a"`
}

type DeployData struct {
	Wasm     []byte `msgpack:"w"`
	InitArgs []byte `msgpack:"i,omitempty"`
}

type CallData struct {
	Method string `msgpack:"m"`
	Args   []byte `msgpack:"a,omitempty"`
}

func (p *Payload) Valid() error {
	switch p.Kind {
	case PayloadTransfer:
		if p.Transfer == nil {
			return errors.New("transfer payload missing body")
		}
	case PayloadDeploy:
		if p.Deploy == nil || len(p.Deploy.Wasm) == 0 {
			return errors.New("deploy payload missing module bytes")
		}
	case PayloadCall:
		if p.Call == nil || p.Call.Method == "" {
			return errors.New("call payload missing method")
		}
	case PayloadData:
	default:
		return errors.Errorf("unknown payload kind %d", p.Kind)
	}
	return nil
}

// Size is the payload's contribution to transaction weight for mempool
// and block budgets.
func (p *Payload) Size() int {
	switch p.Kind {
	case PayloadDeploy:
		if p.Deploy != nil {
			return len(p.Deploy.Wasm) + len(p.Deploy.InitArgs)
		}
	case PayloadCall:
		if p.Call != nil {
			return len(p.Call.Method) + len(p.Call.Args)
		}
	case PayloadData:
		return len(p.Data)
	}
	return 0
}

// Transaction is a signed state-change request. Hash covers every field
// except Hash and Signature; Signature covers Hash.
type Transaction struct {
	Sender    PublicKey `msgpack:"s"`
	Nonce     uint64    `msgpack:"n"`
	Ts        int64     `msgpack:"t"`
	Recipient Address   `msgpack:"r"`
	Payload   Payload   `msgpack:"p"`
	GasLimit  uint64    `msgpack:"g"`
	Priority  uint8     `msgpack:"y"`
	Signature Signature `msgpack:"sg"`
	Hash      Hash      `msgpack:"h"`
}

// txPreimage mirrors Transaction minus Hash and Signature; it is the
// hashed canonical form.
type txPreimage struct {
	Sender    PublicKey `msgpack:"s"`
	Nonce     uint64    `msgpack:"n"`
	Ts        int64     `msgpack:"t"`
	Recipient Address   `msgpack:"r"`
	Payload   Payload   `msgpack:"p"`
	GasLimit  uint64    `msgpack:"g"`
	Priority  uint8     `msgpack:"y"`
}

func (t *Transaction) Marshal() ([]byte, error) { return Marshal(t) }

func (t *Transaction) Unmarshal(b []byte) error { return Unmarshal(b, t) }

func (t *Transaction) ComputeHash() (Hash, error) {
	pre := txPreimage{
		Sender:    t.Sender,
		Nonce:     t.Nonce,
		Ts:        t.Ts,
		Recipient: t.Recipient,
		Payload:   t.Payload,
		GasLimit:  t.GasLimit,
		Priority:  t.Priority,
	}

	b, err := Marshal(&pre)
	if err != nil {
		return Hash{}, errors.Wrap(err, "encoding tx preimage")
	}

	return HashBytes(b), nil
}

func (t *Transaction) Sign(key *PrivateKey) error {
	// the hash preimage includes the sender, so it must be set before
	// hashing
	t.Sender = key.Public()

	h, err := t.ComputeHash()
	if err != nil {
		return err
	}

	t.Hash = h
	t.Signature = key.Sign(h[:])

	return nil
}

// VerifySignature recomputes the hash, checks it against the stored one
// and verifies the ed25519 signature over it.
func (t *Transaction) VerifySignature() error {
	h, err := t.ComputeHash()
	if err != nil {
		return err
	}
	if h != t.Hash {
		return errors.New("tx hash mismatch")
	}
	if !t.Sender.Verify(h[:], t.Signature) {
		return errors.New("tx signature invalid")
	}
	return nil
}

// Weight is the transaction's encoded size, used against block and
// mempool byte budgets.
func (t *Transaction) Weight() int {
	b, err := t.Marshal()
	if err != nil {
		return 0
	}
	return len(b)
}

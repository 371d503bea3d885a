package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignedTx(t *testing.T, key *PrivateKey, nonce uint64) *Transaction {
	t.Helper()

	to, err := GenerateKey()
	require.NoError(t, err)

	tx := &Transaction{
		Nonce:     nonce,
		Ts:        1700000000000,
		Recipient: WalletAddress(to.Public()),
		Payload: Payload{
			Kind:     PayloadTransfer,
			Transfer: &TransferData{Amount: 100},
		},
		GasLimit: 50_000,
		Priority: 3,
	}
	require.NoError(t, tx.Sign(key))

	return tx
}

func TestTransactionRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tx := newSignedTx(t, key, 1)

	d, err := tx.Marshal()
	require.NoError(t, err)

	got := &Transaction{}
	require.NoError(t, got.Unmarshal(d))

	assert.Equal(t, tx.Sender, got.Sender)
	assert.Equal(t, tx.Nonce, got.Nonce)
	assert.Equal(t, tx.Recipient, got.Recipient)
	assert.Equal(t, tx.Payload.Transfer.Amount, got.Payload.Transfer.Amount)
	assert.Equal(t, tx.Hash, got.Hash)
	assert.NoError(t, got.VerifySignature())
}

func TestSignSetsSenderBeforeHashing(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	// call sites never pre-fill Sender; Sign must populate it and the
	// stored hash must cover it
	tx := newSignedTx(t, key, 1)
	assert.Equal(t, key.Public(), tx.Sender)
	require.NoError(t, tx.VerifySignature())

	h, err := tx.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h, tx.Hash)

	tx.Sender = PublicKey{}
	assert.Error(t, tx.VerifySignature())
}

func TestTransactionTamperDetection(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tx := newSignedTx(t, key, 1)
	require.NoError(t, tx.VerifySignature())

	tx.Payload.Transfer.Amount++
	assert.Error(t, tx.VerifySignature())

	tx.Payload.Transfer.Amount--
	require.NoError(t, tx.VerifySignature())

	tx.Signature[0] ^= 0x01
	assert.Error(t, tx.VerifySignature())
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tx := newSignedTx(t, key, 1)

	h1, err := tx.ComputeHash()
	require.NoError(t, err)

	tx.Signature[10] ^= 0xFF
	h2, err := tx.ComputeHash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestBlockSealAndVerify(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blk := &Block{
		Height:   5,
		Ts:       1700000000000,
		PrevHash: HashBytes([]byte("prev")),
	}
	require.NoError(t, blk.Seal(key))

	assert.Equal(t, key.Public(), blk.Signer)
	assert.NoError(t, blk.VerifySignature())

	h, err := blk.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h, blk.Hash)

	blk.Ts++
	assert.Error(t, blk.VerifySignature())
}

func TestBlockRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blk := &Block{
		Height:   1,
		Ts:       1700000000001,
		PrevHash: HashBytes([]byte("genesis")),
		Txs:      []*Transaction{newSignedTx(t, key, 1), newSignedTx(t, key, 2)},
	}
	blk.TxRoot = TxMerkleRoot(blk.Txs)
	require.NoError(t, blk.Seal(key))

	d, err := blk.Marshal()
	require.NoError(t, err)

	got := &Block{}
	require.NoError(t, got.Unmarshal(d))

	assert.Equal(t, blk.Hash, got.Hash)
	assert.Equal(t, blk.TxRoot, got.TxRoot)
	require.Len(t, got.Txs, 2)
	assert.Equal(t, blk.Txs[0].Hash, got.Txs[0].Hash)
}

func TestTxMerkleRoot(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	assert.Equal(t, ZeroHash, TxMerkleRoot(nil))

	a := newSignedTx(t, key, 1)
	b := newSignedTx(t, key, 2)
	c := newSignedTx(t, key, 3)

	one := TxMerkleRoot([]*Transaction{a})
	assert.NotEqual(t, ZeroHash, one)

	// odd counts duplicate the final node, so the root stays defined
	odd := TxMerkleRoot([]*Transaction{a, b, c})
	assert.NotEqual(t, ZeroHash, odd)

	// order matters
	assert.NotEqual(t,
		TxMerkleRoot([]*Transaction{a, b}),
		TxMerkleRoot([]*Transaction{b, a}),
	)
}

func TestDeriveContractID(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	codeHash := HashBytes([]byte("wasm"))

	id1 := DeriveContractID(key.Public(), 0, codeHash)
	id2 := DeriveContractID(key.Public(), 0, codeHash)
	assert.Equal(t, id1, id2)

	assert.NotEqual(t, id1, DeriveContractID(key.Public(), 1, codeHash))
	assert.NotEqual(t, id1, DeriveContractID(key.Public(), 0, HashBytes([]byte("other"))))
}

func TestAccountRoundTrip(t *testing.T) {
	a := NewContractAccount(HashBytes([]byte("code")))
	a.Balance = 42
	a.Nonce = 7
	a.StorageRoot = HashBytes([]byte("root"))

	d, err := a.Marshal()
	require.NoError(t, err)

	got := &Account{}
	require.NoError(t, got.Unmarshal(d))

	assert.Equal(t, a, got)
	assert.True(t, got.IsContract())
}

func TestCanonicalEncodingStable(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tx := newSignedTx(t, key, 1)

	d1, err := tx.Marshal()
	require.NoError(t, err)
	d2, err := tx.Marshal()
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
}

func TestHashFromHex(t *testing.T) {
	h := HashBytes([]byte("x"))

	got, err := HashFromHex(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = HashFromHex("abcd")
	assert.Error(t, err)
}

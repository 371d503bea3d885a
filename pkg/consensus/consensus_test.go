package consensus

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

// fixedStates hands back a constant accounts root.
type fixedStates types.Hash

func (f fixedStates) ComputeStateRoot(_ *types.Block, _ *types.ChainState) (types.Hash, error) {
	return types.Hash(f), nil
}

type fixture struct {
	store storage.Store
	clock clockwork.FakeClock
	key   *types.PrivateKey
	auth  *Authority
	cs    *types.ChainState
	prev  *types.Block
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMemStore()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))

	seed := bytes.Repeat([]byte{0xAA}, types.SeedSize)
	key, err := types.PrivateKeyFromSeed(seed)
	require.NoError(t, err)

	prev := &types.Block{
		Height:   4,
		Ts:       clock.Now().UnixMilli() - 1000,
		PrevHash: types.HashBytes([]byte("older")),
	}
	require.NoError(t, prev.Seal(key))

	b := storage.NewBatch()
	require.NoError(t, storage.PutBlock(b, prev))
	require.NoError(t, store.Apply(b))

	cs := &types.ChainState{
		LatestHash:   prev.Hash,
		LatestHeight: prev.Height,
		AccountsRoot: types.HashBytes([]byte("root")),
	}

	auth := NewAuthority(DefaultAuthorityConfig(), key, []types.PublicKey{key.Public()}, store, clock)

	return &fixture{store: store, clock: clock, key: key, auth: auth, cs: cs, prev: prev}
}

func (f *fixture) states() fixedStates {
	return fixedStates(types.HashBytes([]byte("post-state")))
}

func TestGenerateBlock(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	assert.Equal(t, f.cs.LatestHeight+1, blk.Height)
	assert.Equal(t, f.cs.LatestHash, blk.PrevHash)
	assert.Equal(t, f.key.Public(), blk.Signer)
	assert.Equal(t, types.Hash(f.states()), blk.StateRoot)
	assert.Equal(t, types.ZeroHash, blk.TxRoot)
	require.NoError(t, blk.VerifySignature())

	assert.NoError(t, f.auth.ValidateBlock(blk, f.cs))
}

func TestGenerateBlockTimestampClamp(t *testing.T) {
	f := newFixture(t)

	// wind the host clock behind the tip; the producer must not emit a
	// timestamp at or before the previous block's
	stuck := clockwork.NewFakeClockAt(time.UnixMilli(f.prev.Ts - 5000))
	auth := NewAuthority(DefaultAuthorityConfig(), f.key, []types.PublicKey{f.key.Public()}, f.store, stuck)

	blk, err := auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)
	assert.Equal(t, f.prev.Ts+1, blk.Ts)
}

func TestGenerateBlockNoKey(t *testing.T) {
	f := newFixture(t)

	observer := NewAuthority(DefaultAuthorityConfig(), nil, []types.PublicKey{f.key.Public()}, f.store, f.clock)

	_, err := observer.GenerateBlock(nil, f.cs, f.states())
	assert.Error(t, err)
}

func TestValidateUnauthorizedSigner(t *testing.T) {
	f := newFixture(t)

	rogue, err := types.GenerateKey()
	require.NoError(t, err)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Signer = rogue.Public()
	require.NoError(t, blk.Seal(rogue))

	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrUnauthorizedSigner)
}

func TestValidateBadSignature(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Signature[0] ^= 0x01

	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadSignature)
}

func TestValidateLinkage(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Height = f.cs.LatestHeight + 3
	require.NoError(t, blk.Seal(f.key))
	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadLinkage)

	blk, err = f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.PrevHash = types.HashBytes([]byte("elsewhere"))
	require.NoError(t, blk.Seal(f.key))
	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadLinkage)
}

func TestValidateTimestamp(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Ts = f.prev.Ts
	require.NoError(t, blk.Seal(f.key))
	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadTimestamp)

	blk, err = f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Ts = f.clock.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, blk.Seal(f.key))
	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadTimestamp)
}

func TestValidateTxRootMismatch(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	// smuggle a transaction in without recommitting the root
	to, err := types.GenerateKey()
	require.NoError(t, err)

	tx := &types.Transaction{
		Nonce:     1,
		Ts:        100,
		Recipient: types.WalletAddress(to.Public()),
		Payload: types.Payload{
			Kind:     types.PayloadTransfer,
			Transfer: &types.TransferData{Amount: 1},
		},
		GasLimit: 10_000,
	}
	require.NoError(t, tx.Sign(f.key))

	blk.Txs = append(blk.Txs, tx)
	require.NoError(t, blk.Seal(f.key))

	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrBadLinkage)
}

func TestValidateTamperedHash(t *testing.T) {
	f := newFixture(t)

	blk, err := f.auth.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	blk.Hash = types.HashBytes([]byte("claim"))

	err = f.auth.ValidateBlock(blk, f.cs)
	assert.Error(t, err)
}

func TestMultiSignerSet(t *testing.T) {
	f := newFixture(t)

	second, err := types.GenerateKey()
	require.NoError(t, err)

	// a validator that trusts both keys accepts blocks from either
	both := NewAuthority(DefaultAuthorityConfig(), nil,
		[]types.PublicKey{f.key.Public(), second.Public()}, f.store, f.clock)

	producer := NewAuthority(DefaultAuthorityConfig(), second,
		[]types.PublicKey{second.Public()}, f.store, f.clock)

	blk, err := producer.GenerateBlock(nil, f.cs, f.states())
	require.NoError(t, err)

	assert.NoError(t, both.ValidateBlock(blk, f.cs))
	assert.ErrorIs(t, f.auth.ValidateBlock(blk, f.cs), ErrUnauthorizedSigner)
}

func TestBetterTip(t *testing.T) {
	taller := &types.Block{Height: 8, Hash: types.HashBytes([]byte("t"))}
	shorter := &types.Block{Height: 7, Hash: types.HashBytes([]byte("s"))}

	assert.True(t, BetterTip(shorter, taller))
	assert.False(t, BetterTip(taller, shorter))

	// equal height ties break to the lowest hash
	a := &types.Block{Height: 8, Hash: types.Hash{0x01}}
	b := &types.Block{Height: 8, Hash: types.Hash{0x02}}

	assert.True(t, BetterTip(b, a))
	assert.False(t, BetterTip(a, b))
	assert.False(t, BetterTip(a, a))
}

package runtime

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/baals/pkg/consensus"
	"github.com/tcfw/baals/pkg/ledger"
	"github.com/tcfw/baals/pkg/mempool"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

const counterWat = `
(module
  (import "env" "storage_read" (func $read (param i32 i32 i32 i32) (result i32)))
  (import "env" "storage_write" (func $write (param i32 i32 i32 i32)))
  (memory (export "memory") 1 4)
  (data (i32.const 0) "count")
  (func (export "increment") (result i32)
    (local $n i32)
    (if (i32.gt_s (call $read (i32.const 0) (i32.const 5) (i32.const 16) (i32.const 4)) (i32.const -1))
      (then (local.set $n (i32.load (i32.const 16)))))
    (local.set $n (i32.add (local.get $n) (i32.const 1)))
    (i32.store (i32.const 16) (local.get $n))
    (call $write (i32.const 0) (i32.const 5) (i32.const 16) (i32.const 4))
    (local.get $n)))
`

func seededKey(t *testing.T, b byte) *types.PrivateKey {
	t.Helper()

	key, err := types.PrivateKeyFromSeed(bytes.Repeat([]byte{b}, types.SeedSize))
	require.NoError(t, err)

	return key
}

func le32(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

type env struct {
	rt    *Runtime
	clock clockwork.FakeClock
	key   *types.PrivateKey
	funds *types.PrivateKey
}

func newTestRuntime(t *testing.T, mut func(*Config)) *env {
	t.Helper()

	store := storage.NewMemStore()
	t.Cleanup(func() { store.Close() })

	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	key := seededKey(t, 0xAA)
	funds := seededKey(t, 0x01)

	cfg := DefaultConfig()
	if mut != nil {
		mut(&cfg)
	}

	rt, err := New(cfg, store, key, []types.PublicKey{key.Public()}, clock)
	require.NoError(t, err)

	_, err = rt.InitializeChain(&ledger.GenesisConfig{
		ChainID:   "test",
		Timestamp: clock.Now().UnixMilli(),
		Authority: key.Public(),
		Allocations: []ledger.GenesisAlloc{
			{Address: funds.Public(), Balance: 1_000_000},
		},
	})
	require.NoError(t, err)

	return &env{rt: rt, clock: clock, key: key, funds: funds}
}

func (e *env) transfer(t *testing.T, to types.PublicKey, amount, nonce uint64) *types.Transaction {
	t.Helper()

	tx := &types.Transaction{
		Nonce:     nonce,
		Ts:        e.clock.Now().UnixMilli(),
		Recipient: types.WalletAddress(to),
		Payload: types.Payload{
			Kind:     types.PayloadTransfer,
			Transfer: &types.TransferData{Amount: amount},
		},
		GasLimit: 100_000,
	}
	require.NoError(t, tx.Sign(e.funds))

	return tx
}

func (e *env) deploy(t *testing.T, wasm []byte, nonce uint64) *types.Transaction {
	t.Helper()

	tx := &types.Transaction{
		Nonce:     nonce,
		Ts:        e.clock.Now().UnixMilli(),
		Recipient: types.WalletAddress(e.funds.Public()),
		Payload: types.Payload{
			Kind:   types.PayloadDeploy,
			Deploy: &types.DeployData{Wasm: wasm},
		},
		GasLimit: 2_000_000,
	}
	require.NoError(t, tx.Sign(e.funds))

	return tx
}

func (e *env) call(t *testing.T, id types.ContractID, method string, nonce uint64) *types.Transaction {
	t.Helper()

	tx := &types.Transaction{
		Nonce:     nonce,
		Ts:        e.clock.Now().UnixMilli(),
		Recipient: types.ContractAddress(id),
		Payload: types.Payload{
			Kind: types.PayloadCall,
			Call: &types.CallData{Method: method},
		},
		GasLimit: 1_000_000,
	}
	require.NoError(t, tx.Sign(e.funds))

	return tx
}

func TestProduceNothing(t *testing.T) {
	e := newTestRuntime(t, nil)

	_, _, err := e.rt.ProduceBlock()
	assert.ErrorIs(t, err, ErrNothingToProduce)
}

func TestSubmitProduceQuery(t *testing.T) {
	e := newTestRuntime(t, nil)
	to := seededKey(t, 0x02)

	tx := e.transfer(t, to.Public(), 250, 1)
	require.NoError(t, e.rt.Submit(tx))

	blk, receipts, err := e.rt.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, ledger.ReceiptSuccess, receipts[0].Status)
	assert.Equal(t, uint64(1), blk.Height)

	cs, err := e.rt.QueryHead()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cs.LatestHeight)
	assert.Equal(t, blk.Hash, cs.LatestHash)

	acct, err := e.rt.QueryAccount([32]byte(to.Public()))
	require.NoError(t, err)
	assert.Equal(t, uint64(250), acct.Balance)

	sender, err := e.rt.QueryAccount([32]byte(e.funds.Public()))
	require.NoError(t, err)
	assert.Equal(t, uint64(999_750), sender.Balance)
	assert.Equal(t, uint64(1), sender.Nonce)

	got, err := e.rt.QueryBlock(blk.Hash)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash, got.Hash)

	got, err = e.rt.QueryBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash, got.Hash)

	gotTx, receipt, err := e.rt.QueryTransaction(tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, gotTx.Hash)
	assert.Equal(t, ledger.ReceiptSuccess, receipt.Status)

	// committed block surfaced on the event feed
	select {
	case ev := <-e.rt.Events():
		assert.Equal(t, blk.Hash, ev.Block.Hash)
		assert.Len(t, ev.Receipts, 1)
	default:
		t.Fatal("no block event emitted")
	}
}

func TestReplayRejected(t *testing.T) {
	e := newTestRuntime(t, nil)
	to := seededKey(t, 0x02)

	tx := e.transfer(t, to.Public(), 10, 1)
	require.NoError(t, e.rt.Submit(tx))

	_, _, err := e.rt.ProduceBlock()
	require.NoError(t, err)

	// the committed nonce now gates re-admission
	assert.ErrorIs(t, e.rt.Submit(tx), mempool.ErrNonceTooLow)

	replay := e.transfer(t, to.Public(), 10, 1)
	assert.ErrorIs(t, e.rt.Submit(replay), mempool.ErrNonceTooLow)
}

func TestSubmitPressureSignal(t *testing.T) {
	e := newTestRuntime(t, func(cfg *Config) {
		cfg.PressureThreshold = 1
	})
	to := seededKey(t, 0x02)

	require.NoError(t, e.rt.Submit(e.transfer(t, to.Public(), 1, 1)))
	assert.Len(t, e.rt.pressure, 1)
}

func TestApplyExternalBlockUnauthorized(t *testing.T) {
	e := newTestRuntime(t, nil)

	cs, err := e.rt.QueryHead()
	require.NoError(t, err)

	rogue, err := types.GenerateKey()
	require.NoError(t, err)

	blk := &types.Block{
		Height:    cs.LatestHeight + 1,
		Ts:        e.clock.Now().UnixMilli() + 1,
		PrevHash:  cs.LatestHash,
		TxRoot:    types.ZeroHash,
		StateRoot: cs.AccountsRoot,
		Signer:    rogue.Public(),
	}
	require.NoError(t, blk.Seal(rogue))

	err = e.rt.ApplyExternalBlock(blk)
	assert.ErrorIs(t, err, consensus.ErrUnauthorizedSigner)

	// rejection left the tip untouched
	after, err := e.rt.QueryHead()
	require.NoError(t, err)
	assert.Equal(t, cs, after)
}

func TestApplyExternalBlockValid(t *testing.T) {
	e := newTestRuntime(t, nil)
	to := seededKey(t, 0x02)

	cs, err := e.rt.QueryHead()
	require.NoError(t, err)

	// a peer produced this block with the same authority key
	peer := consensus.NewAuthority(consensus.DefaultAuthorityConfig(), e.key,
		[]types.PublicKey{e.key.Public()}, e.rt.store, e.clock)

	blk, err := peer.GenerateBlock([]*types.Transaction{e.transfer(t, to.Public(), 5, 1)}, cs, e.rt.ledger)
	require.NoError(t, err)

	require.NoError(t, e.rt.ApplyExternalBlock(blk))

	acct, err := e.rt.QueryAccount([32]byte(to.Public()))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), acct.Balance)
}

func TestDeployCallAndContractQueries(t *testing.T) {
	e := newTestRuntime(t, nil)

	wasm, err := wasmtime.Wat2Wasm(counterWat)
	require.NoError(t, err)

	require.NoError(t, e.rt.Submit(e.deploy(t, wasm, 1)))

	_, receipts, err := e.rt.ProduceBlock()
	require.NoError(t, err)
	require.Equal(t, ledger.ReceiptSuccess, receipts[0].Status)
	id := receipts[0].ContractID

	require.NoError(t, e.rt.Submit(e.call(t, id, "increment", 2)))

	_, receipts, err = e.rt.ProduceBlock()
	require.NoError(t, err)
	require.Equal(t, ledger.ReceiptSuccess, receipts[0].Status)
	assert.Equal(t, le32(1), receipts[0].Return)

	v, err := e.rt.QueryContractStorage(id, []byte("count"))
	require.NoError(t, err)
	assert.Equal(t, le32(1), v)

	// a read-only query sees committed state but leaves no writes
	out, err := e.rt.QueryContract(id, "increment", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, le32(2), out)

	v, err = e.rt.QueryContractStorage(id, []byte("count"))
	require.NoError(t, err)
	assert.Equal(t, le32(1), v)
}

func TestRunProducesOnTick(t *testing.T) {
	e := newTestRuntime(t, nil)
	to := seededKey(t, 0x02)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.rt.Run(ctx) }()

	// wait for both loop tickers before advancing the fake clock
	e.clock.BlockUntil(2)

	require.NoError(t, e.rt.Submit(e.transfer(t, to.Public(), 10, 1)))
	e.clock.Advance(e.rt.cfg.BlockInterval)

	select {
	case ev := <-e.rt.Events():
		assert.Equal(t, uint64(1), ev.Block.Height)
	case <-time.After(5 * time.Second):
		t.Fatal("no block produced on tick")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/baals/pkg/types"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	pebble, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pebble.Close() })

	mem := NewMemStore()
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{"pebble": pebble, "mem": mem}
}

func TestBatchRoutesNamespaces(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := []byte("k")

			b := NewBatch()
			b.Put(NsAccounts, key, []byte("account"))
			b.Put(NsContractStorage, key, []byte("storage"))
			require.NoError(t, s.Apply(b))

			// identical keys in different namespaces must not collide
			v, err := s.Get(NsAccounts, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("account"), v)

			v, err = s.Get(NsContractStorage, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("storage"), v)

			_, err = s.Get(NsBlocks, key)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBatchDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBatch()
			b.Put(NsAccounts, []byte("a"), []byte("1"))
			require.NoError(t, s.Apply(b))

			b = NewBatch()
			b.Delete(NsAccounts, []byte("a"))
			require.NoError(t, s.Apply(b))

			_, err := s.Get(NsAccounts, []byte("a"))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSnapshotIsolation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBatch()
			b.Put(NsAccounts, []byte("a"), []byte("old"))
			require.NoError(t, s.Apply(b))

			snap, err := s.Snapshot()
			require.NoError(t, err)
			defer snap.Close()

			b = NewBatch()
			b.Put(NsAccounts, []byte("a"), []byte("new"))
			b.Put(NsAccounts, []byte("b"), []byte("added"))
			require.NoError(t, s.Apply(b))

			// the snapshot still sees the pre-commit state
			v, err := snap.Get(NsAccounts, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("old"), v)

			_, err = snap.Get(NsAccounts, []byte("b"))
			assert.ErrorIs(t, err, ErrNotFound)

			v, err = s.Get(NsAccounts, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), v)
		})
	}
}

func TestScanOrdered(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBatch()
			b.Put(NsBlockHeight, heightKey(3), []byte("c"))
			b.Put(NsBlockHeight, heightKey(1), []byte("a"))
			b.Put(NsBlockHeight, heightKey(2), []byte("b"))
			require.NoError(t, s.Apply(b))

			var got []string
			err := s.Scan(NsBlockHeight, nil, nil, func(k, v []byte) bool {
				got = append(got, string(v))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, got)

			got = nil
			err = s.Scan(NsBlockHeight, heightKey(2), nil, func(k, v []byte) bool {
				got = append(got, string(v))
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, got)
		})
	}
}

func testBlock(t *testing.T, height uint64) *types.Block {
	t.Helper()

	key, err := types.GenerateKey()
	require.NoError(t, err)

	blk := &types.Block{
		Height:   height,
		Ts:       1700000000000 + int64(height),
		PrevHash: types.HashBytes([]byte("prev")),
	}
	require.NoError(t, blk.Seal(key))

	return blk
}

func TestBlockStoreAndCorruption(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			blk := testBlock(t, 9)

			b := NewBatch()
			require.NoError(t, PutBlock(b, blk))
			require.NoError(t, s.Apply(b))

			got, err := GetBlock(s, blk.Hash)
			require.NoError(t, err)
			assert.Equal(t, blk.Hash, got.Hash)

			byHeight, err := GetBlockByHeight(s, 9)
			require.NoError(t, err)
			assert.Equal(t, blk.Hash, byHeight.Hash)

			// a record stored under the wrong hash fails the read-time
			// integrity check
			d, err := blk.Marshal()
			require.NoError(t, err)

			bogus := types.HashBytes([]byte("bogus"))
			b = NewBatch()
			b.Put(NsBlocks, bogus[:], d)
			require.NoError(t, s.Apply(b))

			_, err = GetBlock(s, bogus)
			assert.ErrorIs(t, err, ErrCorruption)
		})
	}
}

func TestScanBlocksByHeight(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			b := NewBatch()
			for h := uint64(0); h < 4; h++ {
				require.NoError(t, PutBlock(b, testBlock(t, h)))
			}
			require.NoError(t, s.Apply(b))

			var heights []uint64
			require.NoError(t, ScanBlocks(s, 1, func(h uint64, hash types.Hash) bool {
				heights = append(heights, h)
				return true
			}))
			assert.Equal(t, []uint64{1, 2, 3}, heights)
		})
	}
}

func TestChainStateRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := GetChainState(s)
			assert.ErrorIs(t, err, ErrNotFound)

			cs := &types.ChainState{
				LatestHash:   types.HashBytes([]byte("tip")),
				LatestHeight: 12,
				AccountsRoot: types.HashBytes([]byte("root")),
				TotalSupply:  1000,
			}

			b := NewBatch()
			require.NoError(t, PutChainState(b, cs))
			require.NoError(t, s.Apply(b))

			got, err := GetChainState(s)
			require.NoError(t, err)
			assert.Equal(t, cs, got)
		})
	}
}

func TestAccountRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			addr := [32]byte{1, 2, 3}
			acct := types.NewWalletAccount(500)
			acct.Nonce = 2

			b := NewBatch()
			require.NoError(t, PutAccount(b, addr, acct))
			require.NoError(t, s.Apply(b))

			got, err := GetAccount(s, addr)
			require.NoError(t, err)
			assert.Equal(t, acct, got)
		})
	}
}

func TestContractStorageKeyPrefixing(t *testing.T) {
	a := types.ContractID(types.HashBytes([]byte("a")))
	b := types.ContractID(types.HashBytes([]byte("b")))

	assert.NotEqual(t, ContractStorageKey(a, []byte("k")), ContractStorageKey(b, []byte("k")))
	assert.Equal(t, append(a[:], 'k'), ContractStorageKey(a, []byte("k")))
}

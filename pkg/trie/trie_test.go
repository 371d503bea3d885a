package trie

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

func TestEmptyTrie(t *testing.T) {
	s := storage.NewMemStore()
	tr := New(s, types.ZeroHash)

	assert.Equal(t, types.ZeroHash, tr.Root())

	_, err := tr.Get([]byte("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutGet(t *testing.T) {
	s := storage.NewMemStore()
	tr := New(s, types.ZeroHash)

	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))
	require.NoError(t, tr.Put([]byte("c"), []byte("3")))

	v, err := tr.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	// overwrite
	require.NoError(t, tr.Put([]byte("b"), []byte("22")))
	v, err = tr.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("22"), v)

	_, err = tr.Get([]byte("d"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRootOrderIndependent(t *testing.T) {
	s := storage.NewMemStore()

	t1 := New(s, types.ZeroHash)
	t2 := New(s, types.ZeroHash)

	for i := 0; i < 32; i++ {
		require.NoError(t, t1.Put([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("val-%d", i))))
	}
	for i := 31; i >= 0; i-- {
		require.NoError(t, t2.Put([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("val-%d", i))))
	}

	assert.Equal(t, t1.Root(), t2.Root())
	assert.NotEqual(t, types.ZeroHash, t1.Root())
}

func TestDeleteRestoresRoot(t *testing.T) {
	s := storage.NewMemStore()
	tr := New(s, types.ZeroHash)

	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	before := tr.Root()

	require.NoError(t, tr.Put([]byte("b"), []byte("2")))
	require.NoError(t, tr.Put([]byte("c"), []byte("3")))

	require.NoError(t, tr.Delete([]byte("c")))
	require.NoError(t, tr.Delete([]byte("b")))

	// equal content must give an equal root regardless of history
	assert.Equal(t, before, tr.Root())

	require.NoError(t, tr.Delete([]byte("a")))
	assert.Equal(t, types.ZeroHash, tr.Root())
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := storage.NewMemStore()
	tr := New(s, types.ZeroHash)

	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	before := tr.Root()

	require.NoError(t, tr.Delete([]byte("zzz")))
	assert.Equal(t, before, tr.Root())
}

func TestCommitAndReload(t *testing.T) {
	s := storage.NewMemStore()

	tr := New(s, types.ZeroHash)
	require.NoError(t, tr.Put([]byte("x"), []byte("10")))
	require.NoError(t, tr.Put([]byte("y"), []byte("20")))

	batch := storage.NewBatch()
	root := tr.Commit(batch)
	require.NoError(t, s.Apply(batch))

	// a fresh trie over the committed root reads both leaves
	reloaded := New(s, root)

	v, err := reloaded.Get([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("10"), v)

	v, err = reloaded.Get([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, []byte("20"), v)
}

func TestUncommittedNodesInvisible(t *testing.T) {
	s := storage.NewMemStore()

	tr := New(s, types.ZeroHash)
	require.NoError(t, tr.Put([]byte("x"), []byte("10")))

	// nothing was committed, so a second view cannot resolve the root
	other := New(s, tr.Root())
	_, err := other.Get([]byte("x"))
	assert.Error(t, err)
}

func TestValueSensitivity(t *testing.T) {
	s := storage.NewMemStore()

	t1 := New(s, types.ZeroHash)
	t2 := New(s, types.ZeroHash)

	require.NoError(t, t1.Put([]byte("k"), []byte("1")))
	require.NoError(t, t2.Put([]byte("k"), []byte("2")))

	assert.NotEqual(t, t1.Root(), t2.Root())
}

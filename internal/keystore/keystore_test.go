package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcfw/baals/pkg/types"
)

func TestCreateLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	key, err := s.Create("node")
	require.NoError(t, err)

	loaded, err := s.Load("node")
	require.NoError(t, err)
	assert.Equal(t, key.Public(), loaded.Public())
}

func TestCreateCollision(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Create("node")
	require.NoError(t, err)

	_, err = s.Create("node")
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestImportExport(t *testing.T) {
	s := New(t.TempDir())

	key, err := types.GenerateKey()
	require.NoError(t, err)

	require.NoError(t, s.Import("cold", key.Seed()))

	seed, err := s.Export("cold")
	require.NoError(t, err)
	assert.Equal(t, key.Seed(), seed)

	assert.Error(t, s.Import("short", []byte{1, 2, 3}))
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Create("a")
	require.NoError(t, err)
	_, err = s.Create("b")
	require.NoError(t, err)

	// unrelated files are not keys
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	names, err = s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	_, err := s.Create("node")
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dir, "node.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestLoadFileTolerantOfWhitespace(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	key, err := s.Create("node")
	require.NoError(t, err)

	loaded, err := LoadFile(filepath.Join(dir, "node.key"))
	require.NoError(t, err)
	assert.Equal(t, key.Public(), loaded.Public())
}

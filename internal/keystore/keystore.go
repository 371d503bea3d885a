// Package keystore stores wallet and authority keys as ed25519 seed
// files on disk, owner-readable only.
package keystore

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

const keyExt = ".key"

var ErrKeyExists = errors.New("key already exists")

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+keyExt)
}

// Create generates a new key under name. Fails if the name is taken.
func (s *Store) Create(name string) (*types.PrivateKey, error) {
	key, err := types.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := s.Import(name, key.Seed()); err != nil {
		return nil, err
	}

	return key, nil
}

// Import writes an existing seed under name.
func (s *Store) Import(name string, seed []byte) error {
	if len(seed) != types.SeedSize {
		return errors.Errorf("bad seed length %d", len(seed))
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrap(err, "creating keystore dir")
	}

	p := s.path(name)
	if _, err := os.Stat(p); err == nil {
		return errors.Wrapf(ErrKeyExists, "%s", name)
	}

	d := hex.EncodeToString(seed) + "\n"
	if err := os.WriteFile(p, []byte(d), 0o600); err != nil {
		return errors.Wrap(err, "writing key file")
	}

	return nil
}

func (s *Store) Load(name string) (*types.PrivateKey, error) {
	return LoadFile(s.path(name))
}

// Export returns the raw seed for name.
func (s *Store) Export(name string) ([]byte, error) {
	key, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	return key.Seed(), nil
}

func (s *Store) List() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading keystore dir")
	}

	var names []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), keyExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), keyExt))
	}

	return names, nil
}

// LoadFile reads a hex seed file from an arbitrary path.
func LoadFile(path string) (*types.PrivateKey, error) {
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading key file")
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(d)))
	if err != nil {
		return nil, errors.Wrap(err, "decoding key file")
	}

	return types.PrivateKeyFromSeed(seed)
}

package storage

import (
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

const (
	cacheSize = 64 << 20

	tableSep byte = ':'
)

var _ Store = (*PebbleStore)(nil)

// PebbleStore is the durable store, one pebble DB with namespaces
// mapped to single-byte key prefixes.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	c := pebble.NewCache(cacheSize)
	defer c.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: c})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble store")
	}

	return &PebbleStore{db: db}, nil
}

func typedKey(ns Namespace, key []byte) []byte {
	k := make([]byte, 0, len(key)+2)
	k = append(k, byte(ns), tableSep)
	return append(k, key...)
}

// nsBounds returns the iteration bounds covering [start, end) inside a
// namespace; nil end covers the rest of the namespace.
func nsBounds(ns Namespace, start, end []byte) (lower, upper []byte) {
	lower = typedKey(ns, start)
	if end != nil {
		upper = typedKey(ns, end)
	} else {
		upper = []byte{byte(ns), tableSep + 1}
	}
	return lower, upper
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func pebbleGet(r pebbleReader, ns Namespace, key []byte) ([]byte, error) {
	v, done, err := r.Get(typedKey(ns, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "reading %s key", ns)
	}
	defer done.Close()

	out := append([]byte(nil), v...)
	return out, nil
}

func pebbleScan(r pebbleReader, ns Namespace, start, end []byte, fn func(key, value []byte) bool) error {
	lower, upper := nsBounds(ns, start, end)

	it, err := r.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return errors.Wrapf(err, "iterating %s", ns)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		key := append([]byte(nil), it.Key()[2:]...)
		value := append([]byte(nil), it.Value()...)
		if !fn(key, value) {
			break
		}
	}

	return errors.Wrapf(it.Error(), "iterating %s", ns)
}

func (s *PebbleStore) Get(ns Namespace, key []byte) ([]byte, error) {
	return pebbleGet(s.db, ns, key)
}

func (s *PebbleStore) Has(ns Namespace, key []byte) (bool, error) {
	_, err := s.Get(ns, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *PebbleStore) Scan(ns Namespace, start, end []byte, fn func(key, value []byte) bool) error {
	return pebbleScan(s.db, ns, start, end, fn)
}

func (s *PebbleStore) Apply(b *Batch) error {
	wb := s.db.NewBatch()

	for _, op := range b.ops {
		var err error
		if op.delete {
			err = wb.Delete(typedKey(op.ns, op.key), nil)
		} else {
			err = wb.Set(typedKey(op.ns, op.key), op.value, nil)
		}
		if err != nil {
			wb.Close()
			return errors.Wrap(err, "staging batch op")
		}
	}

	if err := s.db.Apply(wb, &pebble.WriteOptions{Sync: true}); err != nil {
		return errors.Wrap(err, "committing batch")
	}

	return nil
}

func (s *PebbleStore) Snapshot() (Snapshot, error) {
	return &pebbleSnapshot{snap: s.db.NewSnapshot()}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

type pebbleSnapshot struct {
	snap *pebble.Snapshot
}

var _ Snapshot = (*pebbleSnapshot)(nil)

func (s *pebbleSnapshot) Get(ns Namespace, key []byte) ([]byte, error) {
	return pebbleGet(s.snap, ns, key)
}

func (s *pebbleSnapshot) Has(ns Namespace, key []byte) (bool, error) {
	_, err := s.Get(ns, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *pebbleSnapshot) Scan(ns Namespace, start, end []byte, fn func(key, value []byte) bool) error {
	return pebbleScan(s.snap, ns, start, end, fn)
}

func (s *pebbleSnapshot) Close() error {
	return s.snap.Close()
}

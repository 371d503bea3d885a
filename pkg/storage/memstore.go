package storage

import (
	"sort"
	"strings"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store with the same namespace and snapshot
// semantics as the pebble store. Used in tests and throwaway
// simulation runs.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func memKey(ns Namespace, key []byte) string {
	return string(typedKey(ns, key))
}

func (m *MemStore) Get(ns Namespace, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	v, ok := m.objects[memKey(ns, key)]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), v...), nil
}

func (m *MemStore) Has(ns Namespace, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[memKey(ns, key)]
	return ok, nil
}

func (m *MemStore) Scan(ns Namespace, start, end []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	snapshot := m.sortedRange(ns, start, end)
	m.mu.RUnlock()

	for _, kv := range snapshot {
		if !fn(kv.k, kv.v) {
			break
		}
	}

	return nil
}

type memKV struct {
	k, v []byte
}

func (m *MemStore) sortedRange(ns Namespace, start, end []byte) []memKV {
	prefix := string(typedKey(ns, nil))
	lower := string(typedKey(ns, start))

	var upper string
	if end != nil {
		upper = string(typedKey(ns, end))
	}

	out := make([]memKV, 0)
	for k, v := range m.objects {
		if !strings.HasPrefix(k, prefix) || k < lower {
			continue
		}
		if end != nil && k >= upper {
			continue
		}
		out = append(out, memKV{
			k: []byte(k[2:]),
			v: append([]byte(nil), v...),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return string(out[i].k) < string(out[j].k)
	})

	return out
}

func (m *MemStore) Apply(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, op := range b.ops {
		k := memKey(op.ns, op.key)
		if op.delete {
			delete(m.objects, k)
		} else {
			m.objects[k] = append([]byte(nil), op.value...)
		}
	}

	return nil
}

func (m *MemStore) Snapshot() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	cp := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		cp[k] = v
	}

	return &memSnapshot{objects: cp}, nil
}

func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

type memSnapshot struct {
	objects map[string][]byte
}

var _ Snapshot = (*memSnapshot)(nil)

func (s *memSnapshot) Get(ns Namespace, key []byte) ([]byte, error) {
	v, ok := s.objects[memKey(ns, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *memSnapshot) Has(ns Namespace, key []byte) (bool, error) {
	_, ok := s.objects[memKey(ns, key)]
	return ok, nil
}

func (s *memSnapshot) Scan(ns Namespace, start, end []byte, fn func(key, value []byte) bool) error {
	m := &MemStore{objects: s.objects}
	return m.Scan(ns, start, end, fn)
}

func (s *memSnapshot) Close() error { return nil }

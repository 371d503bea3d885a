// Package trie implements the authenticated key/value map behind the
// accounts root and each contract's storage root: a compact sparse
// binary Merkle trie over SHA-256 hashed keys.
//
// Nodes are content-addressed by the digest of their encoding and kept
// in the trie_nodes namespace, shared by every tree in the system. The
// zero hash denotes an empty subtree; an empty trie has the zero root.
package trie

import (
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

const (
	tagLeaf     byte = 0x00
	tagInternal byte = 0x01

	pathBits = types.HashSize * 8
)

var ErrCorruptNode = errors.New("corrupt trie node")

// Trie is a mutable view over a committed root. Mutations accumulate
// new nodes in memory; Commit stages them onto a batch and the final
// root commits to every live leaf.
type Trie struct {
	root   types.Hash
	reader storage.Reader
	dirty  map[types.Hash][]byte
}

func New(reader storage.Reader, root types.Hash) *Trie {
	return &Trie{
		root:   root,
		reader: reader,
		dirty:  make(map[types.Hash][]byte),
	}
}

func (t *Trie) Root() types.Hash { return t.root }

func (t *Trie) node(h types.Hash) ([]byte, error) {
	if d, ok := t.dirty[h]; ok {
		return d, nil
	}

	d, err := t.reader.Get(storage.NsTrieNodes, h[:])
	if err != nil {
		return nil, errors.Wrap(err, "loading trie node")
	}

	if types.HashBytes(d) != h {
		return nil, errors.Wrap(ErrCorruptNode, "node digest mismatch")
	}

	return d, nil
}

func (t *Trie) putNode(d []byte) types.Hash {
	h := types.HashBytes(d)
	t.dirty[h] = d
	return h
}

func encodeLeaf(path types.Hash, value []byte) []byte {
	d := make([]byte, 0, 1+types.HashSize+len(value))
	d = append(d, tagLeaf)
	d = append(d, path[:]...)
	return append(d, value...)
}

func encodeInternal(left, right types.Hash) []byte {
	d := make([]byte, 0, 1+2*types.HashSize)
	d = append(d, tagInternal)
	d = append(d, left[:]...)
	return append(d, right[:]...)
}

func decodeLeaf(d []byte) (path types.Hash, value []byte, err error) {
	if len(d) < 1+types.HashSize || d[0] != tagLeaf {
		return path, nil, ErrCorruptNode
	}
	copy(path[:], d[1:1+types.HashSize])
	return path, d[1+types.HashSize:], nil
}

func decodeInternal(d []byte) (left, right types.Hash, err error) {
	if len(d) != 1+2*types.HashSize || d[0] != tagInternal {
		return left, right, ErrCorruptNode
	}
	copy(left[:], d[1:1+types.HashSize])
	copy(right[:], d[1+types.HashSize:])
	return left, right, nil
}

func pathBit(path types.Hash, depth int) byte {
	return (path[depth/8] >> (7 - uint(depth)%8)) & 1
}

func keyPath(key []byte) types.Hash {
	return types.HashBytes(key)
}

// Get returns the value stored under key, or storage.ErrNotFound.
func (t *Trie) Get(key []byte) ([]byte, error) {
	path := keyPath(key)
	h := t.root

	for depth := 0; depth <= pathBits; depth++ {
		if h.IsZero() {
			return nil, storage.ErrNotFound
		}

		d, err := t.node(h)
		if err != nil {
			return nil, err
		}

		if d[0] == tagLeaf {
			p, v, err := decodeLeaf(d)
			if err != nil {
				return nil, err
			}
			if p != path {
				return nil, storage.ErrNotFound
			}
			return append([]byte(nil), v...), nil
		}

		left, right, err := decodeInternal(d)
		if err != nil {
			return nil, err
		}
		if pathBit(path, depth) == 0 {
			h = left
		} else {
			h = right
		}
	}

	return nil, errors.Wrap(ErrCorruptNode, "path exhausted")
}

func (t *Trie) Put(key, value []byte) error {
	root, err := t.insert(t.root, 0, keyPath(key), append([]byte(nil), value...))
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) insert(h types.Hash, depth int, path types.Hash, value []byte) (types.Hash, error) {
	if h.IsZero() {
		return t.putNode(encodeLeaf(path, value)), nil
	}

	d, err := t.node(h)
	if err != nil {
		return types.ZeroHash, err
	}

	if d[0] == tagLeaf {
		existing, _, err := decodeLeaf(d)
		if err != nil {
			return types.ZeroHash, err
		}
		if existing == path {
			return t.putNode(encodeLeaf(path, value)), nil
		}
		return t.split(h, existing, depth, path, value), nil
	}

	left, right, err := decodeInternal(d)
	if err != nil {
		return types.ZeroHash, err
	}

	if pathBit(path, depth) == 0 {
		left, err = t.insert(left, depth+1, path, value)
	} else {
		right, err = t.insert(right, depth+1, path, value)
	}
	if err != nil {
		return types.ZeroHash, err
	}

	return t.putNode(encodeInternal(left, right)), nil
}

// split pushes an existing leaf down until its path diverges from the
// new one, producing a chain of internal nodes.
func (t *Trie) split(existingHash types.Hash, existingPath types.Hash, depth int, path types.Hash, value []byte) types.Hash {
	newLeaf := t.putNode(encodeLeaf(path, value))

	// find the first divergent bit
	div := depth
	for pathBit(existingPath, div) == pathBit(path, div) {
		div++
	}

	var left, right types.Hash
	if pathBit(path, div) == 0 {
		left, right = newLeaf, existingHash
	} else {
		left, right = existingHash, newLeaf
	}
	h := t.putNode(encodeInternal(left, right))

	for d := div - 1; d >= depth; d-- {
		if pathBit(path, d) == 0 {
			h = t.putNode(encodeInternal(h, types.ZeroHash))
		} else {
			h = t.putNode(encodeInternal(types.ZeroHash, h))
		}
	}

	return h
}

func (t *Trie) Delete(key []byte) error {
	root, err := t.remove(t.root, 0, keyPath(key))
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func (t *Trie) remove(h types.Hash, depth int, path types.Hash) (types.Hash, error) {
	if h.IsZero() {
		return types.ZeroHash, nil
	}

	d, err := t.node(h)
	if err != nil {
		return types.ZeroHash, err
	}

	if d[0] == tagLeaf {
		existing, _, err := decodeLeaf(d)
		if err != nil {
			return types.ZeroHash, err
		}
		if existing == path {
			return types.ZeroHash, nil
		}
		return h, nil
	}

	left, right, err := decodeInternal(d)
	if err != nil {
		return types.ZeroHash, err
	}

	if pathBit(path, depth) == 0 {
		left, err = t.remove(left, depth+1, path)
	} else {
		right, err = t.remove(right, depth+1, path)
	}
	if err != nil {
		return types.ZeroHash, err
	}

	// collapse: a lone leaf child is pulled up so equal content always
	// yields an equal root regardless of history
	if left.IsZero() && right.IsZero() {
		return types.ZeroHash, nil
	}
	if right.IsZero() {
		if leaf, err := t.isLeaf(left); err != nil {
			return types.ZeroHash, err
		} else if leaf {
			return left, nil
		}
	}
	if left.IsZero() {
		if leaf, err := t.isLeaf(right); err != nil {
			return types.ZeroHash, err
		} else if leaf {
			return right, nil
		}
	}

	return t.putNode(encodeInternal(left, right)), nil
}

func (t *Trie) isLeaf(h types.Hash) (bool, error) {
	d, err := t.node(h)
	if err != nil {
		return false, err
	}
	return len(d) > 0 && d[0] == tagLeaf, nil
}

// Commit stages every node created since load onto the batch. The trie
// remains usable afterwards with the same root.
func (t *Trie) Commit(b *storage.Batch) types.Hash {
	for h, d := range t.dirty {
		b.Put(storage.NsTrieNodes, h.Bytes(), d)
	}
	return t.root
}

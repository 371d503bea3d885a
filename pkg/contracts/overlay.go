package contracts

import (
	"github.com/tcfw/baals/pkg/types"
)

type overlayValue struct {
	data    []byte
	deleted bool
}

// Overlay stages contract storage writes for a single in-flight call.
// Reads fall through parent overlays (nested calls) before reaching
// committed state. A successful child merges into its parent; a failed
// child is dropped whole.
type Overlay struct {
	parent *Overlay
	writes map[string]overlayValue
}

func NewOverlay(parent *Overlay) *Overlay {
	return &Overlay{
		parent: parent,
		writes: make(map[string]overlayValue),
	}
}

func overlayKey(id types.ContractID, key []byte) string {
	return string(id[:]) + string(key)
}

// Get returns the staged value for (id, key) if any overlay in the
// chain holds one. found reports whether the overlay chain has an
// answer at all; deleted reports a staged delete.
func (o *Overlay) Get(id types.ContractID, key []byte) (value []byte, found, deleted bool) {
	k := overlayKey(id, key)

	for cur := o; cur != nil; cur = cur.parent {
		if v, ok := cur.writes[k]; ok {
			return v.data, true, v.deleted
		}
	}

	return nil, false, false
}

func (o *Overlay) Put(id types.ContractID, key, value []byte) {
	o.writes[overlayKey(id, key)] = overlayValue{data: append([]byte(nil), value...)}
}

func (o *Overlay) Delete(id types.ContractID, key []byte) {
	o.writes[overlayKey(id, key)] = overlayValue{deleted: true}
}

// Merge folds a child overlay's writes into this one.
func (o *Overlay) Merge(child *Overlay) {
	for k, v := range child.writes {
		o.writes[k] = v
	}
}

func (o *Overlay) Len() int { return len(o.writes) }

// Each visits every staged write. Keys decompose as contract id ||
// storage key.
func (o *Overlay) Each(fn func(id types.ContractID, key []byte, value []byte, deleted bool)) {
	for k, v := range o.writes {
		var id types.ContractID
		copy(id[:], k[:types.HashSize])
		fn(id, []byte(k[types.HashSize:]), v.data, v.deleted)
	}
}

package storage

type batchOp struct {
	ns     Namespace
	key    []byte
	value  []byte
	delete bool
}

// Batch is an ordered set of puts and deletes spanning namespaces.
// Either every operation becomes durable or none do.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(ns Namespace, key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, batchOp{ns: ns, key: k, value: v})
}

func (b *Batch) Delete(ns Namespace, key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, batchOp{ns: ns, key: k, delete: true})
}

func (b *Batch) Len() int { return len(b.ops) }

// Append merges another batch's operations onto this one, preserving
// order.
func (b *Batch) Append(other *Batch) {
	b.ops = append(b.ops, other.ops...)
}

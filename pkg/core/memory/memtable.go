package memory

import (
	"github.com/google/btree"

	"indexlab/pkg/common"
)

// Item is one buffered record. Seq breaks ties between equal keys so that
// duplicates keep their arrival order.
type Item struct {
	Key  common.Value
	Seq  uint64
	Data []byte
}

// SortBuffer orders records by key in memory before a bulk write. It is a
// build-time staging area only; nothing reads through it.
type SortBuffer struct {
	tree  *btree.BTreeG[Item]
	seq   uint64
	bytes int
}

// NewSortBuffer orders keys with cmp (usually KeyCodec.Compare).
func NewSortBuffer(degree int, cmp func(a, b common.Value) int) *SortBuffer {
	less := func(a, b Item) bool {
		if c := cmp(a.Key, b.Key); c != 0 {
			return c < 0
		}
		return a.Seq < b.Seq
	}
	return &SortBuffer{tree: btree.NewG(degree, less)}
}

func (sb *SortBuffer) Put(key common.Value, data []byte) {
	sb.tree.ReplaceOrInsert(Item{Key: key, Seq: sb.seq, Data: data})
	sb.seq++
	sb.bytes += len(data)
}

// Size is the buffered payload in bytes.
func (sb *SortBuffer) Size() int { return sb.bytes }

func (sb *SortBuffer) Count() int { return sb.tree.Len() }

// Iterator walks records in key order until fn returns false.
func (sb *SortBuffer) Iterator(fn func(key common.Value, data []byte) bool) {
	sb.tree.Ascend(func(it Item) bool {
		return fn(it.Key, it.Data)
	})
}

// Drain returns the sorted records and empties the buffer.
func (sb *SortBuffer) Drain() []Item {
	out := make([]Item, 0, sb.tree.Len())
	sb.tree.Ascend(func(it Item) bool {
		out = append(out, it)
		return true
	})
	sb.tree.Clear(false)
	sb.bytes = 0
	return out
}

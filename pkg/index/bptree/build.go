package bptree

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
	"indexlab/pkg/core/memory"
	"indexlab/pkg/storage"
	"indexlab/pkg/storage/sstable"
)

// Build replaces the tree with recs.
func (t *Tree) Build(recs []common.Record) error {
	sb := t.sortBuffer()
	for _, r := range recs {
		if len(r.Data) != t.recordSize {
			return fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(r.Data), t.recordSize)
		}
		sb.Put(r.Key, r.Data)
	}
	return t.write(sb.Drain())
}

// load reads every record back in clustered order into a sort buffer.
func (t *Tree) load() (sb *memory.SortBuffer, err error) {
	s, err := t.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(&err)
	sb = t.sortBuffer()
	err = s.walk(nil, nil, func(k common.Value, e common.Entry) bool {
		sb.Put(k, e.Data)
		return true
	})
	return sb, err
}

// Insert adds one record and rewrites the data and node files. It returns
// the record's slot in the rewritten data file.
func (t *Tree) Insert(key common.Value, rec []byte) (common.Offset, error) {
	if len(rec) != t.recordSize {
		return common.NilOffset, fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(rec), t.recordSize)
	}
	sb, err := t.load()
	if err != nil {
		return common.NilOffset, err
	}
	sb.Put(key, rec)
	mine := uint64(sb.Count() - 1)
	items := sb.Drain()
	if err := t.write(items); err != nil {
		return common.NilOffset, err
	}
	for i, it := range items {
		if it.Seq == mine {
			return common.Offset(i), nil
		}
	}
	return common.NilOffset, fmt.Errorf("bptree: inserted record lost during rebuild")
}

// InsertBatch adds recs with a single rewrite.
func (t *Tree) InsertBatch(recs []common.Record) error {
	sb, err := t.load()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Data) != t.recordSize {
			return fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(r.Data), t.recordSize)
		}
		sb.Put(r.Key, r.Data)
	}
	return t.write(sb.Drain())
}

// Remove deletes records under key accepted by match (nil matches all) and
// rewrites both files when anything was removed.
func (t *Tree) Remove(key common.Value, match func(rec []byte) bool) (int, error) {
	sb, err := t.load()
	if err != nil {
		return 0, err
	}
	items := sb.Drain()
	kept := items[:0]
	for _, it := range items {
		if t.key.Compare(it.Key, key) == 0 && (match == nil || match(it.Data)) {
			continue
		}
		kept = append(kept, it)
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, t.write(kept)
}

// Rebuild rewrites both files from the current contents.
func (t *Tree) Rebuild() (int, error) {
	sb, err := t.load()
	if err != nil {
		return 0, err
	}
	items := sb.Drain()
	return len(items), t.write(items)
}

func (t *Tree) write(items []memory.Item) (err error) {
	dat, err := t.disk.Create(t.dataPath)
	if err != nil {
		return err
	}
	idx, err := t.disk.Create(t.indexPath)
	if err != nil {
		dat.Close()
		return err
	}
	defer storage.Release(&err, dat, idx)

	b := sstable.NewBuilder(dat, t.recordSize, t.fanout)
	for _, it := range items {
		if err := b.Add(it.Key, it.Data); err != nil {
			return err
		}
	}
	runs, err := b.Finish()
	if err != nil {
		return err
	}
	return t.bulkLoad(idx, runs)
}

type child struct {
	off int64
	min common.Value
}

// bulkLoad writes one leaf per run, then internal levels bottom-up until a
// single root remains.
func (t *Tree) bulkLoad(idx *storage.BlockFile, runs []sstable.Run) error {
	if len(runs) == 0 {
		runs = []sstable.Run{{}}
	}
	size := int64(t.nodeSize())
	next := int64(indexHeaderSize)

	level := make([]child, len(runs))
	for i, r := range runs {
		nd := &node{leaf: true, keys: r.Keys, first: r.First}
		if i+1 < len(runs) {
			nd.next = next + size
		}
		b, err := t.encode(nd)
		if err != nil {
			return err
		}
		if err := idx.WriteBlock(next, b); err != nil {
			return err
		}
		var lo common.Value
		if len(r.Keys) > 0 {
			lo = r.Keys[0]
		}
		level[i] = child{off: next, min: lo}
		next += size
	}

	height := 1
	for len(level) > 1 {
		var up []child
		for start := 0; start < len(level); start += t.fanout {
			group := level[start:min(start+t.fanout, len(level))]
			nd := &node{}
			for j, c := range group {
				if j > 0 {
					nd.keys = append(nd.keys, c.min)
				}
				nd.children = append(nd.children, c.off)
			}
			b, err := t.encode(nd)
			if err != nil {
				return err
			}
			if err := idx.WriteBlock(next, b); err != nil {
				return err
			}
			up = append(up, child{off: next, min: group[0].min})
			next += size
		}
		level = up
		height++
	}

	hdr := make([]byte, indexHeaderSize)
	storage.PutMagic(hdr, indexMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(t.fanout))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(t.nodeSize()))
	binary.LittleEndian.PutUint64(hdr[20:], uint64(level[0].off))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(len(runs)))
	binary.LittleEndian.PutUint32(hdr[32:], uint32(height))
	return idx.WriteBlock(0, hdr)
}

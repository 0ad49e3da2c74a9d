package isam

import (
	"encoding/binary"
	"fmt"

	"indexlab/pkg/common"
	"indexlab/pkg/storage"
)

// Build replaces the structure with recs packed into a sorted base area
// and derives both index levels from it.
func (f *File) Build(recs []common.Record) (err error) {
	sb := f.sortBuffer()
	for _, r := range recs {
		if len(r.Data) != f.recordSize {
			return fmt.Errorf("%w: record is %d bytes, file holds %d", common.ErrInvalidPlan, len(r.Data), f.recordSize)
		}
		sb.Put(r.Key, r.Data)
	}
	items := sb.Drain()

	dat, err := f.disk.Create(f.dataPath)
	if err != nil {
		return err
	}
	idx, err := f.disk.Create(f.indexPath)
	if err != nil {
		dat.Close()
		return err
	}
	s := &session{f: f, dat: dat, idx: idx}
	defer s.release(&err)

	var firsts []common.Value
	for i := 0; i < len(items) || i == 0; i += f.blockFactor {
		end := min(i+f.blockFactor, len(items))
		p := &page{no: len(firsts), next: noPage}
		for _, it := range items[i:end] {
			p.slots = append(p.slots, slot{rec: it.Data})
		}
		if end > i {
			firsts = append(firsts, items[i].Key)
		} else {
			firsts = append(firsts, nil)
		}
		if err := s.writePage(p); err != nil {
			return err
		}
	}
	s.basePages, s.pages = len(firsts), len(firsts)
	if err := s.writeDataHeader(); err != nil {
		return err
	}
	return s.writeIndex(firsts)
}

// writeIndex groups base pages under level-1 nodes of fanout+1 pointers and
// puts a single root over the level-1 nodes.
func (s *session) writeIndex(firsts []common.Value) error {
	group := s.f.fanout + 1
	var l1 [][]byte
	var rootKeys []common.Value
	var rootPtrs []int32
	for start := 0; start < len(firsts); start += group {
		end := min(start+group, len(firsts))
		var keys []common.Value
		var ptrs []int32
		for p := start; p < end; p++ {
			if p > start {
				keys = append(keys, firsts[p])
			}
			ptrs = append(ptrs, int32(p))
		}
		b, err := s.encodeNode(keys, ptrs, s.f.fanout)
		if err != nil {
			return err
		}
		if start > 0 {
			rootKeys = append(rootKeys, firsts[start])
		}
		rootPtrs = append(rootPtrs, int32(len(l1)))
		l1 = append(l1, b)
	}
	root, err := s.encodeNode(rootKeys, rootPtrs, len(rootKeys))
	if err != nil {
		return err
	}
	s.level1, s.rootBytes = len(l1), len(root)

	hdr := make([]byte, indexHeaderSize)
	storage.PutMagic(hdr, indexMagic)
	binary.LittleEndian.PutUint32(hdr[8:], storage.FormatVersion)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(s.f.fanout))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(s.level1))
	binary.LittleEndian.PutUint32(hdr[20:], uint32(s.rootBytes))
	if err := s.idx.WriteBlock(0, hdr); err != nil {
		return err
	}
	if err := s.idx.WriteBlock(indexHeaderSize, root); err != nil {
		return err
	}
	for i, b := range l1 {
		if err := s.idx.WriteBlock(int64(indexHeaderSize+s.rootBytes)+int64(i)*int64(s.f.nodeSize()), b); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) encodeNode(keys []common.Value, ptrs []int32, capacity int) ([]byte, error) {
	kw := s.f.key.Width()
	b := make([]byte, 4+capacity*kw+(capacity+1)*4)
	binary.LittleEndian.PutUint32(b, uint32(len(keys)))
	for i, k := range keys {
		if err := s.f.key.Put(b[4+i*kw:], k); err != nil {
			return nil, err
		}
	}
	base := 4 + capacity*kw
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(b[base+i*4:], uint32(p))
	}
	return b, nil
}

// Reorganize rebuilds base area, overflow area and index from the live
// records, dropping tombstones. It only runs when called.
func (f *File) Reorganize() (live int, err error) {
	var recs []common.Record
	var keyErr error
	err = f.Scan(func(e common.Entry) bool {
		k, err := f.keyOf(e.Data)
		if err != nil {
			keyErr = err
			return false
		}
		recs = append(recs, common.Record{Key: k, Data: append([]byte(nil), e.Data...)})
		return true
	})
	if err != nil {
		return 0, err
	}
	if keyErr != nil {
		return 0, keyErr
	}
	return len(recs), f.Build(recs)
}

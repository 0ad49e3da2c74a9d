package exthash

import (
	"fmt"

	"indexlab/pkg/common"
)

// Insert appends rec to the heap and files its offset under key, splitting
// buckets (and doubling the directory) as needed.
func (x *Index) Insert(key common.Value, rec []byte) (off common.Offset, err error) {
	if len(rec) != x.recordSize {
		return common.NilOffset, fmt.Errorf("%w: record is %d bytes, heap holds %d", common.ErrInvalidPlan, len(rec), x.recordSize)
	}
	s, err := x.acquire(false)
	if err != nil {
		return common.NilOffset, err
	}
	defer s.release(&err)

	if x.opts.Unique {
		dup := false
		err := s.chain(key, func(bk *bucket) (bool, error) {
			for _, k := range bk.keys {
				if x.key.Compare(k, key) == 0 {
					dup = true
					return false, nil
				}
			}
			return true, nil
		})
		if err != nil {
			return common.NilOffset, err
		}
		if dup {
			return common.NilOffset, fmt.Errorf("%w: %v", common.ErrDuplicateKey, key)
		}
	}

	// the entry is filed first so a failed placement leaves no orphan record
	n, err := s.heap.Count()
	if err != nil {
		return common.NilOffset, err
	}
	if err := s.place(key, common.Offset(n)); err != nil {
		return common.NilOffset, err
	}
	return s.heap.Append(rec)
}

func (s *session) place(key common.Value, val common.Offset) error {
	for {
		off, err := s.dirEntry(s.slot(key))
		if err != nil {
			return err
		}
		bk, err := s.readBucket(off)
		if err != nil {
			return err
		}
		if len(bk.keys) < s.capacity {
			return s.add(bk, key, val)
		}
		tail, room, length, err := s.walk(bk)
		if err != nil {
			return err
		}
		if room != nil && length <= s.maxChain {
			return s.add(room, key, val)
		}
		if length < s.maxChain {
			return s.link(tail, key, val)
		}
		if bk.depth < s.maxDepth {
			ok, err := s.separable(bk, key)
			if err != nil {
				return err
			}
			if ok {
				if err := s.split(bk); err != nil {
					return err
				}
				continue
			}
		}
		// no split can tell these keys apart: the chain grows past max chain
		if room != nil {
			return s.add(room, key, val)
		}
		return s.link(tail, key, val)
	}
}

// separable reports whether some split below the max depth would put the
// entries of bk's chain (plus key) into different buckets.
func (s *session) separable(bk *bucket, key common.Value) (bool, error) {
	mask := uint64(1)<<s.maxDepth - 1
	want := s.x.key.Hash(key) & mask
	for b := bk; ; {
		for _, k := range b.keys {
			if s.x.key.Hash(k)&mask != want {
				return true, nil
			}
		}
		if b.overflow == 0 {
			return false, nil
		}
		var err error
		if b, err = s.readBucket(b.overflow); err != nil {
			return false, err
		}
	}
}

// walk follows the overflow chain of primary and returns its tail, the
// first overflow bucket with room (or nil) and the chain length.
func (s *session) walk(primary *bucket) (tail, room *bucket, length int, err error) {
	tail = primary
	for tail.overflow != 0 {
		if tail, err = s.readBucket(tail.overflow); err != nil {
			return nil, nil, 0, err
		}
		length++
		if room == nil && len(tail.keys) < s.capacity {
			room = tail
		}
	}
	return tail, room, length, nil
}

func (s *session) add(bk *bucket, key common.Value, val common.Offset) error {
	bk.keys = append(bk.keys, key)
	bk.vals = append(bk.vals, val)
	return s.writeBucket(bk)
}

// link appends a new overflow bucket holding the entry after tail.
func (s *session) link(tail *bucket, key common.Value, val common.Offset) error {
	nb := &bucket{depth: tail.depth, keys: []common.Value{key}, vals: []common.Offset{val}}
	if err := s.writeBucket(nb); err != nil {
		return err
	}
	tail.overflow = nb.off
	if err := s.writeBucket(tail); err != nil {
		return err
	}
	return s.writeHeader()
}

// double copies the directory to the end of the file at twice its length;
// slot i and slot i+2^gd point to the same bucket.
func (s *session) double() error {
	dir, err := s.readDirectory()
	if err != nil {
		return err
	}
	end, err := s.idx.Size()
	if err != nil {
		return err
	}
	s.dirOff = end
	s.globalDepth++
	s.doublings++
	if err := s.writeDirectory(append(dir, dir...)); err != nil {
		return err
	}
	return s.writeHeader()
}

// split raises the local depth of bk by one and moves the entries whose
// next hash bit is set into a new bucket. The chain of bk is redistributed
// as well and its blocks reused.
func (s *session) split(bk *bucket) error {
	if bk.depth == s.globalDepth {
		if err := s.double(); err != nil {
			return err
		}
	}
	dir, err := s.readDirectory()
	if err != nil {
		return err
	}

	keys := append([]common.Value(nil), bk.keys...)
	vals := append([]common.Offset(nil), bk.vals...)
	var pool []int64
	for off := bk.overflow; off != 0; {
		ob, err := s.readBucket(off)
		if err != nil {
			return err
		}
		keys = append(keys, ob.keys...)
		vals = append(vals, ob.vals...)
		pool = append(pool, off)
		off = ob.overflow
	}

	bit := bk.depth
	var loK, hiK []common.Value
	var loV, hiV []common.Offset
	for i, k := range keys {
		if s.x.key.Hash(k)>>bit&1 == 1 {
			hiK, hiV = append(hiK, k), append(hiV, vals[i])
		} else {
			loK, loV = append(loK, k), append(loV, vals[i])
		}
	}

	lo := &bucket{off: bk.off, depth: bit + 1}
	if err := s.fill(lo, loK, loV, &pool); err != nil {
		return err
	}
	hi := &bucket{depth: bit + 1}
	if err := s.fill(hi, hiK, hiV, &pool); err != nil {
		return err
	}
	// chain blocks left in pool are no longer addressed
	s.buckets -= uint32(len(pool))
	for j := range dir {
		if dir[j] == bk.off && (j>>bit)&1 == 1 {
			dir[j] = hi.off
		}
	}
	if err := s.writeDirectory(dir); err != nil {
		return err
	}
	return s.writeHeader()
}

// fill writes keys into primary and as many chained buckets as needed,
// taking block offsets from pool before appending new ones. Buckets are
// written tail first so every overflow link is known when written.
func (s *session) fill(primary *bucket, keys []common.Value, vals []common.Offset, pool *[]int64) error {
	var chunks []*bucket
	for i := 0; i == 0 || i < len(keys); i += s.capacity {
		end := min(i+s.capacity, len(keys))
		chunks = append(chunks, &bucket{depth: primary.depth, keys: keys[i:end], vals: vals[i:end]})
	}
	chunks[0].off = primary.off
	for _, c := range chunks[1:] {
		if len(*pool) > 0 {
			c.off, *pool = (*pool)[0], (*pool)[1:]
		}
	}
	var next int64
	for i := len(chunks) - 1; i >= 0; i-- {
		chunks[i].overflow = next
		if err := s.writeBucket(chunks[i]); err != nil {
			return err
		}
		next = chunks[i].off
	}
	primary.off = chunks[0].off
	return nil
}

// Check verifies the directory invariants: 2^gd slots, every bucket
// addressed by exactly the slots sharing its low local-depth bits, every
// entry hashed into its bucket. A chain may exceed max chain only when no
// split could separate its keys. It returns the number of entries.
func (x *Index) Check() (entries int, err error) {
	s, err := x.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)
	dir, err := s.readDirectory()
	if err != nil {
		return 0, err
	}
	if len(dir) != 1<<s.globalDepth {
		return 0, fmt.Errorf("exthash: directory has %d slots at global depth %d", len(dir), s.globalDepth)
	}
	refs := map[int64]int{}
	for _, off := range dir {
		refs[off]++
	}
	seen := map[int64]bool{}
	for j, off := range dir {
		if seen[off] {
			continue
		}
		seen[off] = true
		bk, err := s.readBucket(off)
		if err != nil {
			return 0, err
		}
		if bk.depth > s.globalDepth {
			return 0, fmt.Errorf("exthash: bucket at %d has local depth %d > %d", off, bk.depth, s.globalDepth)
		}
		if want := 1 << (s.globalDepth - bk.depth); refs[off] != want {
			return 0, fmt.Errorf("exthash: bucket at %d addressed by %d slots, want %d", off, refs[off], want)
		}
		mask := uint64(1)<<bk.depth - 1
		prefix := uint64(j) & mask
		for k := range dir {
			if (uint64(k)&mask == prefix) != (dir[k] == off) {
				return 0, fmt.Errorf("exthash: slot %d disagrees with bucket at %d", k, off)
			}
		}
		var hashes []uint64
		chain := 0
		for ; ; chain++ {
			for _, key := range bk.keys {
				h := x.key.Hash(key)
				if h&mask != prefix {
					return 0, fmt.Errorf("exthash: key %v misplaced in bucket at %d", key, off)
				}
				hashes = append(hashes, h)
			}
			entries += len(bk.keys)
			if bk.overflow == 0 {
				break
			}
			if bk, err = s.readBucket(bk.overflow); err != nil {
				return 0, err
			}
		}
		if chain > s.maxChain && separate(hashes, s.maxDepth) {
			return 0, fmt.Errorf("exthash: chain at %d longer than %d holds separable keys", off, s.maxChain)
		}
	}
	return entries, nil
}

// separate reports whether hashes differ in their low depth bits.
func separate(hashes []uint64, depth uint32) bool {
	mask := uint64(1)<<depth - 1
	for _, h := range hashes[min(1, len(hashes)):] {
		if h&mask != hashes[0]&mask {
			return true
		}
	}
	return false
}

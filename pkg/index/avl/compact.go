package avl

import (
	"fmt"

	"indexlab/pkg/common"
)

// Compact rewrites the heap without tombstoned records and rebuilds a
// perfectly balanced tree over the survivors. It only runs when called.
func (t *Tree) Compact() (live int, err error) {
	items, err := t.liveItems()
	if err != nil {
		return 0, err
	}

	tmpData, tmpIndex := t.dataPath+".compact", t.indexPath+".compact"
	if err := t.writeCompacted(tmpData, tmpIndex, items); err != nil {
		_ = t.disk.Remove(tmpData, tmpIndex)
		return 0, err
	}
	if err := t.disk.Rename(tmpData, t.dataPath); err != nil {
		return 0, err
	}
	if err := t.disk.Rename(tmpIndex, t.indexPath); err != nil {
		return 0, err
	}
	return len(items), t.disk.Remove(t.tombPath)
}

type item struct {
	key common.Value
	rec []byte
}

func (t *Tree) liveItems() (items []item, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	var hits []hit
	if err := s.walk(s.root, nil, nil, &hits); err != nil {
		return nil, err
	}
	ts, err := t.tombstones()
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if ts.Contains(h.value) {
			continue
		}
		rec, err := s.heap.Read(h.value)
		if err != nil {
			return nil, err
		}
		items = append(items, item{key: h.key, rec: rec})
	}
	return items, nil
}

func (t *Tree) writeCompacted(dataPath, indexPath string, items []item) (err error) {
	dat, err := t.disk.Create(dataPath)
	if err != nil {
		return err
	}
	idx, err := t.disk.Create(indexPath)
	if err != nil {
		dat.Close()
		return err
	}
	s := &session{t: t, dat: dat, idx: idx}
	defer s.release(&err)

	if err := s.init(); err != nil {
		return err
	}
	offs := make([]common.Offset, len(items))
	for i, it := range items {
		if offs[i], err = s.heap.Append(it.rec); err != nil {
			return err
		}
	}
	if s.root, _, err = s.build(items, offs, 0, len(items)); err != nil {
		return err
	}
	s.count = uint32(len(items))
	return s.writeHeader()
}

// build writes the middle item of items[lo:hi] as the subtree root.
func (s *session) build(items []item, offs []common.Offset, lo, hi int) (int64, int32, error) {
	if lo >= hi {
		return 0, 0, nil
	}
	mid := (lo + hi) / 2
	left, lh, err := s.build(items, offs, lo, mid)
	if err != nil {
		return 0, 0, err
	}
	right, rh, err := s.build(items, offs, mid+1, hi)
	if err != nil {
		return 0, 0, err
	}
	n := &node{key: items[mid].key, height: 1 + max(lh, rh), left: left, right: right, value: offs[mid]}
	if err := s.write(n); err != nil {
		return 0, 0, err
	}
	return n.off, n.height, nil
}

// Check walks the whole tree and verifies ordering, stored heights and
// balance factors. It returns the number of nodes.
func (t *Tree) Check() (n int, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)

	var prev common.Value
	var visit func(off int64) (int32, error)
	visit = func(off int64) (int32, error) {
		if off == 0 {
			return 0, nil
		}
		nd, err := s.read(off)
		if err != nil {
			return 0, err
		}
		lh, err := visit(nd.left)
		if err != nil {
			return 0, err
		}
		if prev != nil && t.key.Compare(prev, nd.key) > 0 {
			return 0, fmt.Errorf("avl: key %v after %v at offset %d", nd.key, prev, off)
		}
		prev = nd.key
		n++
		rh, err := visit(nd.right)
		if err != nil {
			return 0, err
		}
		if bf := lh - rh; bf < -1 || bf > 1 {
			return 0, fmt.Errorf("avl: balance factor %d at offset %d", bf, off)
		}
		if h := 1 + max(lh, rh); h != nd.height {
			return 0, fmt.Errorf("avl: stored height %d, actual %d at offset %d", nd.height, h, off)
		}
		return nd.height, nil
	}
	if _, err := visit(s.root); err != nil {
		return 0, err
	}
	if n != int(s.count) {
		return n, fmt.Errorf("avl: header counts %d nodes, found %d", s.count, n)
	}
	return n, nil
}

// Height is the height of the root, 0 for an empty tree.
func (t *Tree) Height() (h int, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)
	hh, err := s.height(s.root)
	return int(hh), err
}

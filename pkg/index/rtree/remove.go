package rtree

import (
	"indexlab/pkg/common"
)

type orphan struct {
	e     entry
	level int
}

// Remove deletes the records stored at point that match accepts (nil
// matches all). Underfull nodes are dissolved and their entries reinserted;
// the root shrinks while it has a single child.
func (t *Tree) Remove(key common.Value, match func(rec []byte) bool) (n int, err error) {
	p, err := t.point(key)
	if err != nil {
		return 0, err
	}
	s, err := t.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)

	target := common.PointRect(p)
	for {
		path, slots, leaf, hits, err := s.findLeaf(s.root, target, match)
		if err != nil {
			return n, err
		}
		if leaf == nil {
			break
		}
		kept := leaf.entries[:0]
		for i, e := range leaf.entries {
			if !hits[i] {
				kept = append(kept, e)
			}
		}
		removed := len(leaf.entries) - len(kept)
		leaf.entries = kept
		n += removed
		s.count -= uint64(removed)

		orphans, err := s.condense(path, slots, leaf)
		if err != nil {
			return n, err
		}
		if err := s.shrink(); err != nil {
			return n, err
		}
		for _, o := range orphans {
			if err := s.reinsert(o); err != nil {
				return n, err
			}
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.shrink(); err != nil {
		return n, err
	}
	return n, s.writeHeader()
}

// reinsert puts an orphan back on its level, or spreads its subtree one
// level down when the tree has become too shallow to hold it.
func (s *session) reinsert(o orphan) error {
	if o.level <= int(s.height)-1 {
		return s.insert(o.e, o.level)
	}
	child, err := s.read(o.e.ref)
	if err != nil {
		return err
	}
	for _, e := range child.entries {
		if err := s.reinsert(orphan{e: e, level: o.level - 1}); err != nil {
			return err
		}
	}
	return nil
}

// findLeaf returns the first leaf (and its path) holding an entry at target
// that match accepts, with the accepted positions marked.
func (s *session) findLeaf(off int64, target common.Rect, match func([]byte) bool) ([]*node, []int, *node, []bool, error) {
	nd, err := s.read(off)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if nd.leaf {
		hits := make([]bool, len(nd.entries))
		found := false
		for i, e := range nd.entries {
			if !e.box.Equal(target) {
				continue
			}
			if match != nil {
				rec, err := s.heap.Read(common.Offset(e.ref))
				if err != nil {
					return nil, nil, nil, nil, err
				}
				if !match(rec) {
					continue
				}
			}
			hits[i], found = true, true
		}
		if !found {
			return nil, nil, nil, nil, nil
		}
		return nil, nil, nd, hits, nil
	}
	for i, e := range nd.entries {
		if !e.box.Contains(target) {
			continue
		}
		path, slots, leaf, hits, err := s.findLeaf(e.ref, target, match)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if leaf != nil {
			return append([]*node{nd}, path...), append([]int{i}, slots...), leaf, hits, nil
		}
	}
	return nil, nil, nil, nil, nil
}

// condense writes the shrunken leaf and walks up its path: an underfull
// node is cut from its parent and its entries returned for reinsertion,
// otherwise the parent's box for it is tightened.
func (s *session) condense(path []*node, slots []int, leaf *node) ([]orphan, error) {
	var lost []orphan
	n, level := leaf, 0
	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i]
		if len(n.entries) < s.t.minEntries {
			for _, e := range n.entries {
				lost = append(lost, orphan{e: e, level: level})
			}
			parent.entries = append(parent.entries[:slots[i]], parent.entries[slots[i]+1:]...)
		} else {
			if err := s.write(n); err != nil {
				return nil, err
			}
			parent.entries[slots[i]].box = n.mbr()
		}
		n = parent
		level++
	}
	return lost, s.write(n)
}

// shrink replaces an internal root that has a single child by that child,
// and an internal root left without children by an empty leaf.
func (s *session) shrink() error {
	for s.height > 1 {
		root, err := s.read(s.root)
		if err != nil {
			return err
		}
		switch len(root.entries) {
		case 0:
			leaf := &node{off: root.off, leaf: true}
			if err := s.write(leaf); err != nil {
				return err
			}
			s.height = 1
			return nil
		case 1:
			s.root = root.entries[0].ref
			s.height--
		default:
			return nil
		}
	}
	return nil
}

package rtree

import (
	"fmt"
	"math"

	"indexlab/pkg/common"
)

// Insert appends rec to the heap and indexes it under point.
func (t *Tree) Insert(key common.Value, rec []byte) (off common.Offset, err error) {
	p, err := t.point(key)
	if err != nil {
		return common.NilOffset, err
	}
	if len(rec) != t.recordSize {
		return common.NilOffset, fmt.Errorf("%w: record is %d bytes, heap holds %d", common.ErrInvalidPlan, len(rec), t.recordSize)
	}
	s, err := t.acquire(false)
	if err != nil {
		return common.NilOffset, err
	}
	defer s.release(&err)

	if off, err = s.heap.Append(rec); err != nil {
		return common.NilOffset, err
	}
	if err := s.insert(entry{box: common.PointRect(p), ref: int64(off)}, 0); err != nil {
		return common.NilOffset, err
	}
	s.count++
	return off, s.writeHeader()
}

// insert places e in a node at level (0 = leaf), splitting and adjusting
// boxes along the descent path.
func (s *session) insert(e entry, level int) error {
	var path []*node
	var slots []int
	n, err := s.read(s.root)
	if err != nil {
		return err
	}
	for lvl := int(s.height) - 1; lvl > level; lvl-- {
		i := chooseSubtree(n, e.box)
		path, slots = append(path, n), append(slots, i)
		if n, err = s.read(n.entries[i].ref); err != nil {
			return err
		}
	}

	n.entries = append(n.entries, e)
	var sibling *node
	if len(n.entries) > s.t.maxEntries {
		sibling = s.split(n)
	}
	if err := s.writePair(n, sibling); err != nil {
		return err
	}

	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i]
		box := n.mbr()
		changed := !parent.entries[slots[i]].box.Equal(box)
		parent.entries[slots[i]].box = box
		var up *node
		if sibling != nil {
			parent.entries = append(parent.entries, entry{box: sibling.mbr(), ref: sibling.off})
			changed = true
			if len(parent.entries) > s.t.maxEntries {
				up = s.split(parent)
			}
		}
		if !changed {
			return nil
		}
		if err := s.writePair(parent, up); err != nil {
			return err
		}
		n, sibling = parent, up
	}

	if sibling != nil {
		root := &node{entries: []entry{
			{box: n.mbr(), ref: n.off},
			{box: sibling.mbr(), ref: sibling.off},
		}}
		if err := s.write(root); err != nil {
			return err
		}
		s.root = root.off
		s.height++
	}
	return nil
}

func (s *session) writePair(n, sibling *node) error {
	if err := s.write(n); err != nil {
		return err
	}
	if sibling != nil {
		return s.write(sibling)
	}
	return nil
}

// chooseSubtree picks the entry needing the least enlargement, then the
// smallest area.
func chooseSubtree(n *node, box common.Rect) int {
	best, bestGrow, bestArea := 0, math.Inf(1), math.Inf(1)
	for i, e := range n.entries {
		grow, area := e.box.Enlargement(box), e.box.Area()
		if grow < bestGrow || (grow == bestGrow && area < bestArea) {
			best, bestGrow, bestArea = i, grow, area
		}
	}
	return best
}

// split distributes the M+1 entries of n with Guttman's quadratic method.
// n keeps the first group; the returned sibling (not yet written) holds the
// second.
func (s *session) split(n *node) *node {
	rest := n.entries
	a, b := pickSeeds(rest)
	g1 := []entry{rest[a]}
	g2 := []entry{rest[b]}
	box1, box2 := rest[a].box.Clone(), rest[b].box.Clone()

	var left []entry
	for i, e := range rest {
		if i != a && i != b {
			left = append(left, e)
		}
	}
	m := s.t.minEntries
	for len(left) > 0 {
		if len(g1)+len(left) == m {
			g1 = append(g1, left...)
			break
		}
		if len(g2)+len(left) == m {
			g2 = append(g2, left...)
			break
		}
		i := pickNext(left, box1, box2)
		e := left[i]
		left = append(left[:i], left[i+1:]...)

		d1, d2 := box1.Enlargement(e.box), box2.Enlargement(e.box)
		toFirst := d1 < d2 ||
			(d1 == d2 && box1.Area() < box2.Area()) ||
			(d1 == d2 && box1.Area() == box2.Area() && len(g1) <= len(g2))
		if toFirst {
			g1 = append(g1, e)
			box1 = box1.Union(e.box)
		} else {
			g2 = append(g2, e)
			box2 = box2.Union(e.box)
		}
	}
	n.entries = g1
	return &node{leaf: n.leaf, entries: g2}
}

// pickSeeds returns the pair that would waste the most area together.
func pickSeeds(es []entry) (int, int) {
	a, b, worst := 0, 1, math.Inf(-1)
	for i := range es {
		for j := i + 1; j < len(es); j++ {
			d := es[i].box.Union(es[j].box).Area() - es[i].box.Area() - es[j].box.Area()
			if d > worst {
				a, b, worst = i, j, d
			}
		}
	}
	return a, b
}

// pickNext returns the entry with the strongest preference for one group.
func pickNext(es []entry, box1, box2 common.Rect) int {
	best, bestDiff := 0, -1.0
	for i, e := range es {
		diff := math.Abs(box1.Enlargement(e.box) - box2.Enlargement(e.box))
		if diff > bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

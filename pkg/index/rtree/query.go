package rtree

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"indexlab/pkg/common"
)

// visit walks every node whose box intersects q (all nodes when q is nil)
// and hands leaf entries to fn until it returns false.
func (s *session) visit(off int64, q *common.Rect, fn func(e entry) bool) (bool, error) {
	n, err := s.read(off)
	if err != nil {
		return false, err
	}
	for _, e := range n.entries {
		if q != nil && !e.box.Intersects(*q) {
			continue
		}
		if n.leaf {
			if !fn(e) {
				return false, nil
			}
			continue
		}
		more, err := s.visit(e.ref, q, fn)
		if err != nil || !more {
			return more, err
		}
	}
	return true, nil
}

// Search returns the records stored exactly at point.
func (t *Tree) Search(key common.Value) (out []common.Entry, err error) {
	p, err := t.point(key)
	if err != nil {
		return nil, err
	}
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	q := common.PointRect(p)
	_, err = s.visit(s.root, &q, func(e entry) bool {
		if e.box.Equal(q) {
			out = append(out, common.Entry{Offset: common.Offset(e.ref)})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, err
}

// RangeSearch returns the records within radius of point, nearest first.
func (t *Tree) RangeSearch(point common.Value, radius float64) (out []common.Neighbor, err error) {
	p, err := t.point(point)
	if err != nil {
		return nil, err
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("%w: radius %v", common.ErrInvalidSpatialQuery, radius)
	}
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	q := common.Around(p, radius)
	_, err = s.visit(s.root, &q, func(e entry) bool {
		if d := common.Distance(p, e.box.Min); d <= radius {
			out = append(out, common.Neighbor{
				Entry:    common.Entry{Offset: common.Offset(e.ref)},
				Point:    append(common.Point(nil), e.box.Min...),
				Distance: d,
			})
		}
		return true
	})
	sortNeighbors(out)
	return out, err
}

func sortNeighbors(ns []common.Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].Entry.Offset < ns[j].Entry.Offset
	})
}

// candidate is a node or a leaf entry waiting in the best-first queue.
type candidate struct {
	dist  float64
	node  int64 // 0 for a leaf entry
	entry entry
}

type queue []candidate

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	// records before nodes at equal distance, then by slot
	if (q[i].node == 0) != (q[j].node == 0) {
		return q[i].node == 0
	}
	return q[i].entry.ref < q[j].entry.ref
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(candidate)) }

func (q *queue) Pop() any {
	old := *q
	c := old[len(old)-1]
	*q = old[:len(old)-1]
	return c
}

// KNN returns the k records nearest to point, nearest first. Nodes are
// expanded in MINDIST order so only nodes that can beat the current
// candidates are read.
func (t *Tree) KNN(point common.Value, k int) (out []common.Neighbor, err error) {
	p, err := t.point(point)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k = %d", common.ErrInvalidSpatialQuery, k)
	}
	s, err := t.acquire(false)
	if err != nil {
		return nil, err
	}
	defer s.release(&err)

	q := &queue{{dist: 0, node: s.root}}
	for q.Len() > 0 && len(out) < k {
		c := heap.Pop(q).(candidate)
		if c.node == 0 {
			out = append(out, common.Neighbor{
				Entry:    common.Entry{Offset: common.Offset(c.entry.ref)},
				Point:    append(common.Point(nil), c.entry.box.Min...),
				Distance: c.dist,
			})
			continue
		}
		n, err := s.read(c.node)
		if err != nil {
			return nil, err
		}
		for _, e := range n.entries {
			if n.leaf {
				heap.Push(q, candidate{dist: common.Distance(p, e.box.Min), entry: e})
			} else {
				heap.Push(q, candidate{dist: e.box.MinDist(p), node: e.ref})
			}
		}
	}
	return out, nil
}

// Scan visits every record in tree order.
func (t *Tree) Scan(fn func(common.Entry) bool) (err error) {
	s, err := t.acquire(false)
	if err != nil {
		return err
	}
	defer s.release(&err)
	_, err = s.visit(s.root, nil, func(e entry) bool {
		return fn(common.Entry{Offset: common.Offset(e.ref)})
	})
	return err
}

// Check verifies that every internal box is exactly the bounding box of
// its child, all leaves sit at the same depth, and node fill stays within
// bounds. It returns the number of leaf entries.
func (t *Tree) Check() (n int, err error) {
	s, err := t.acquire(false)
	if err != nil {
		return 0, err
	}
	defer s.release(&err)

	var walk func(off int64, depth uint32, isRoot bool) (common.Rect, bool, error)
	walk = func(off int64, depth uint32, isRoot bool) (common.Rect, bool, error) {
		nd, err := s.read(off)
		if err != nil {
			return common.Rect{}, false, err
		}
		if !isRoot && len(nd.entries) < t.minEntries {
			return common.Rect{}, false, fmt.Errorf("rtree: node at %d holds %d entries, min %d", off, len(nd.entries), t.minEntries)
		}
		if nd.leaf {
			if depth != s.height {
				return common.Rect{}, false, fmt.Errorf("rtree: leaf at %d on level %d, height %d", off, depth, s.height)
			}
			n += len(nd.entries)
		} else {
			for _, e := range nd.entries {
				box, nonEmpty, err := walk(e.ref, depth+1, false)
				if err != nil {
					return common.Rect{}, false, err
				}
				if nonEmpty && !e.box.Equal(box) {
					return common.Rect{}, false, fmt.Errorf("rtree: entry for node %d has box %v, child covers %v", e.ref, e.box, box)
				}
			}
		}
		if len(nd.entries) == 0 {
			return common.Rect{}, false, nil
		}
		return nd.mbr(), true, nil
	}
	if _, _, err := walk(s.root, 1, true); err != nil {
		return 0, err
	}
	if n != int(s.count) {
		return n, fmt.Errorf("rtree: header counts %d entries, found %d", s.count, n)
	}
	return n, nil
}

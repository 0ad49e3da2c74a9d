package common

import (
	"fmt"
	"math"
)

// Point is a 2D or 3D coordinate.
type Point []float64

// Rect is an axis-aligned bounding box with len(Min) == len(Max).
type Rect struct {
	Min []float64
	Max []float64
}

// PointRect is the degenerate box [p,p].
func PointRect(p Point) Rect {
	return Rect{Min: append([]float64(nil), p...), Max: append([]float64(nil), p...)}
}

// Around is the square/cube of half-width r centred on p.
func Around(p Point, r float64) Rect {
	b := Rect{Min: make([]float64, len(p)), Max: make([]float64, len(p))}
	for i, v := range p {
		b.Min[i] = v - r
		b.Max[i] = v + r
	}
	return b
}

func (r Rect) Dims() int { return len(r.Min) }

func (r Rect) Clone() Rect {
	return Rect{Min: append([]float64(nil), r.Min...), Max: append([]float64(nil), r.Max...)}
}

func (r Rect) Area() float64 {
	a := 1.0
	for i := range r.Min {
		a *= r.Max[i] - r.Min[i]
	}
	return a
}

// Union is the smallest box covering r and o.
func (r Rect) Union(o Rect) Rect {
	u := r.Clone()
	for i := range u.Min {
		u.Min[i] = math.Min(u.Min[i], o.Min[i])
		u.Max[i] = math.Max(u.Max[i], o.Max[i])
	}
	return u
}

// Enlargement is the area growth needed for r to cover o.
func (r Rect) Enlargement(o Rect) float64 {
	return r.Union(o).Area() - r.Area()
}

func (r Rect) Intersects(o Rect) bool {
	for i := range r.Min {
		if r.Min[i] > o.Max[i] || o.Min[i] > r.Max[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	for i := range r.Min {
		if o.Min[i] < r.Min[i] || o.Max[i] > r.Max[i] {
			return false
		}
	}
	return true
}

func (r Rect) Equal(o Rect) bool {
	if len(r.Min) != len(o.Min) {
		return false
	}
	for i := range r.Min {
		if r.Min[i] != o.Min[i] || r.Max[i] != o.Max[i] {
			return false
		}
	}
	return true
}

// MinDist is the smallest Euclidean distance from p to any point of r.
func (r Rect) MinDist(p Point) float64 {
	sum := 0.0
	for i, v := range p {
		var d float64
		switch {
		case v < r.Min[i]:
			d = r.Min[i] - v
		case v > r.Max[i]:
			d = v - r.Max[i]
		}
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Distance is the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CheckPoint validates dimensionality against dims.
func CheckPoint(p Point, dims int) error {
	if len(p) != dims {
		return fmt.Errorf("%w: point has %d dimensions, index has %d", ErrInvalidSpatialQuery, len(p), dims)
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: point coordinate %v", ErrInvalidSpatialQuery, v)
		}
	}
	return nil
}

// Neighbor is a spatial match and its distance from the query point.
type Neighbor struct {
	Entry    Entry
	Point    Point
	Distance float64
}

// ToPoint accepts the canonical []float64 of an ARRAY[FLOAT] value.
func ToPoint(v Value) (Point, error) {
	switch p := v.(type) {
	case Point:
		return p, nil
	case []float64:
		return Point(p), nil
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a point", ErrInvalidSpatialQuery, v, v)
}

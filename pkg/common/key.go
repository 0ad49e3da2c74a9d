package common

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"math"
)

// KeyCodec encodes, orders and hashes keys of one attribute. Index files
// store keys at the codec's fixed Width.
type KeyCodec struct {
	attr Attribute
}

// NewKeyCodec builds a codec for a scalar attribute.
func NewKeyCodec(a Attribute) (KeyCodec, error) {
	if a.Type == TypeFloatArray {
		return KeyCodec{}, fmt.Errorf("%w: %s is not a scalar key", ErrInvalidSchema, a.Name)
	}
	if a.Width() <= 0 {
		return KeyCodec{}, fmt.Errorf("%w: %s has zero width", ErrInvalidSchema, a.Name)
	}
	return KeyCodec{attr: a}, nil
}

func (c KeyCodec) Width() int { return c.attr.Width() }

func (c KeyCodec) Type() Type { return c.attr.Type }

// Coerce converts a loosely typed key into the codec's canonical type.
func (c KeyCodec) Coerce(v any) (Value, error) { return Coerce(c.attr, v) }

// Put writes v into dst[:Width()].
func (c KeyCodec) Put(dst []byte, v Value) error { return putValue(dst[:c.Width()], c.attr, v) }

// Get reads a key from src[:Width()].
func (c KeyCodec) Get(src []byte) Value { return getValue(src[:c.Width()], c.attr) }

// Compare orders two canonical keys.
func (c KeyCodec) Compare(a, b Value) int {
	switch c.attr.Type {
	case TypeInt:
		return cmp.Compare(a.(int64), b.(int64))
	case TypeFloat:
		return cmp.Compare(a.(float64), b.(float64))
	default:
		return cmp.Compare(a.(string), b.(string))
	}
}

// Hash maps a key to 64 bits. Integers hash to themselves so that low-bit
// bucket addressing follows the key directly.
func (c KeyCodec) Hash(v Value) uint64 {
	switch c.attr.Type {
	case TypeInt:
		return uint64(v.(int64))
	case TypeFloat:
		return splitmix64(math.Float64bits(positiveZero(v.(float64))))
	default:
		h := fnv.New64a()
		h.Write([]byte(v.(string)))
		return h.Sum64()
	}
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

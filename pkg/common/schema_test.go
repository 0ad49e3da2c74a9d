package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func movieSchema() *Schema {
	return &Schema{
		Table: "movies",
		Attributes: []Attribute{
			{Name: "id", Type: TypeInt, Index: KindAVL},
			{Name: "title", Type: TypeVarchar, Size: 8},
			{Name: "rating", Type: TypeFloat},
			{Name: "released", Type: TypeDate},
			{Name: "loc", Type: TypeFloatArray, Size: 2, Index: KindRTree},
		},
		PrimaryKey: "id",
	}
}

func TestSchemaEncodeDecode(t *testing.T) {
	s := movieSchema()
	require.NoError(t, s.Validate())
	assert.Equal(t, 8+8+8+10+16, s.RecordSize())

	row, err := s.Normalize([]any{7, "Casablanca", "8.5", "1942-11-26", []any{1.5, 2}})
	require.NoError(t, err)

	b, err := s.Encode(row)
	require.NoError(t, err)
	require.Len(t, b, s.RecordSize())

	got, err := s.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got[0])
	assert.Equal(t, "Casablan", got[1], "VARCHAR is truncated to its capacity")
	assert.Equal(t, 8.5, got[2])
	assert.Equal(t, "1942-11-26", got[3])
	assert.Equal(t, []float64{1.5, 2}, got[4])

	title, err := s.Field(b, "title")
	require.NoError(t, err)
	assert.Equal(t, "Casablan", title)
}

func TestSchemaPadsShortText(t *testing.T) {
	s := movieSchema()
	row, err := s.NormalizeMap(map[string]any{"id": 1, "title": "Up", "loc": "(0, 0)"})
	require.NoError(t, err)
	b, err := s.Encode(row)
	require.NoError(t, err)
	got, err := s.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "Up", got[1])
	assert.Equal(t, "1970-01-01", got[3])
}

func TestSchemaValidate(t *testing.T) {
	s := movieSchema()
	s.PrimaryKey = "missing"
	assert.ErrorIs(t, s.Validate(), ErrInvalidSchema)

	s = movieSchema()
	s.Attributes[4].Size = 4
	assert.ErrorIs(t, s.Validate(), ErrInvalidSchema)

	s = movieSchema()
	s.Attributes[1].Index = KindRTree
	assert.ErrorIs(t, s.Validate(), ErrInvalidSchema)
}

func TestCoerceRejects(t *testing.T) {
	_, err := Coerce(Attribute{Name: "d", Type: TypeDate}, "2024-13-40")
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = Coerce(Attribute{Name: "n", Type: TypeInt}, 1.5)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = Coerce(Attribute{Name: "p", Type: TypeFloatArray, Size: 3}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCoerceMatchesDecodedKeys(t *testing.T) {
	name := Attribute{Name: "name", Type: TypeVarchar, Size: 4}
	v, err := Coerce(name, "ab  ")
	require.NoError(t, err)
	assert.Equal(t, "ab", v)
	v, err = Coerce(name, "xy\x00z")
	require.NoError(t, err)
	assert.Equal(t, "xy\x00z", v, "only trailing padding is dropped")

	c, err := NewKeyCodec(name)
	require.NoError(t, err)
	buf := make([]byte, c.Width())
	padded, err := Coerce(name, "ab ")
	require.NoError(t, err)
	require.NoError(t, c.Put(buf, padded))
	assert.Equal(t, padded, c.Get(buf))

	score := Attribute{Name: "score", Type: TypeFloat}
	neg, err := Coerce(score, math.Copysign(0, -1))
	require.NoError(t, err)
	assert.False(t, math.Signbit(neg.(float64)))
	neg, err = Coerce(score, "-0")
	require.NoError(t, err)
	assert.False(t, math.Signbit(neg.(float64)))

	fc, err := NewKeyCodec(score)
	require.NoError(t, err)
	assert.Equal(t, fc.Hash(0.0), fc.Hash(math.Copysign(0, -1)))
}

func TestParseAttribute(t *testing.T) {
	a, err := ParseAttribute("title:varchar[20]")
	require.NoError(t, err)
	assert.Equal(t, Attribute{Name: "title", Type: TypeVarchar, Size: 20}, a)

	a, err = ParseAttribute("loc:ARRAY[FLOAT](3):rtree")
	require.NoError(t, err)
	assert.Equal(t, Attribute{Name: "loc", Type: TypeFloatArray, Size: 3, Index: KindRTree}, a)

	_, err = ParseAttribute("x:BLOB")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"avl": KindAVL, "b+tree": KindBPTree, "exthash": KindHash, "R-Tree": KindRTree} {
		k, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, k)
	}
	_, err := ParseKind("SEQUENTIAL")
	assert.ErrorIs(t, err, ErrInvalidSchema, "a sequential file is not an AVL tree")
}

func TestKeyCodec(t *testing.T) {
	c, err := NewKeyCodec(Attribute{Name: "name", Type: TypeVarchar, Size: 4})
	require.NoError(t, err)
	buf := make([]byte, c.Width())
	require.NoError(t, c.Put(buf, "abcdef"))
	assert.Equal(t, "abcd", c.Get(buf))
	assert.Negative(t, c.Compare("abc", "abd"))

	ic, err := NewKeyCodec(Attribute{Name: "id", Type: TypeInt})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ic.Hash(int64(5)))

	_, err = NewKeyCodec(Attribute{Name: "loc", Type: TypeFloatArray, Size: 2})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, "UnsupportedOperation", KindOf(ErrUnsupportedOperation))
	assert.Equal(t, "Internal", KindOf(assert.AnError))
}

func TestRectGeometry(t *testing.T) {
	a := PointRect(Point{0, 0})
	b := PointRect(Point{2, 3})
	u := a.Union(b)
	assert.Equal(t, 6.0, u.Area())
	assert.True(t, u.Contains(a))
	assert.True(t, u.Contains(b))
	assert.Equal(t, 6.0, a.Enlargement(b))
	assert.InDelta(t, 5.0, u.MinDist(Point{5, 7}), 1e-9)
	assert.Equal(t, 0.0, u.MinDist(Point{1, 1}))
	assert.True(t, Around(Point{0, 0}, 2).Intersects(PointRect(Point{1, 1})))
	assert.ErrorIs(t, CheckPoint(Point{1}, 2), ErrInvalidSpatialQuery)
}

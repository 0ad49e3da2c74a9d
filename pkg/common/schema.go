package common

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Type is the storage type of an attribute.
type Type int

const (
	TypeInt Type = iota + 1
	TypeFloat
	TypeVarchar
	TypeDate
	TypeFloatArray
)

const dateLayout = "2006-01-02"

const dateWidth = 10

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeVarchar:
		return "VARCHAR"
	case TypeDate:
		return "DATE"
	case TypeFloatArray:
		return "ARRAY[FLOAT]"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Attribute is one column of a schema. Size is the VARCHAR capacity or the
// ARRAY[FLOAT] length and is ignored for the other types.
type Attribute struct {
	Name  string `json:"name"`
	Type  Type   `json:"type"`
	Size  int    `json:"size,omitempty"`
	Index Kind   `json:"index,omitempty"`
}

// Width is the encoded byte width of the attribute.
func (a Attribute) Width() int {
	switch a.Type {
	case TypeInt, TypeFloat:
		return 8
	case TypeVarchar:
		return a.Size
	case TypeDate:
		return dateWidth
	case TypeFloatArray:
		return 8 * a.Size
	}
	return 0
}

var attrTypePattern = regexp.MustCompile(`^(INT|FLOAT|VARCHAR|DATE|ARRAY\[FLOAT\])(?:\s*[\[(]\s*(\d+)\s*[\])])?$`)

// ParseAttribute parses "name:TYPE" or "name:TYPE:KIND", e.g. "title:VARCHAR[32]",
// "loc:ARRAY[FLOAT](2):RTREE".
func ParseAttribute(spec string) (Attribute, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Attribute{}, fmt.Errorf("%w: attribute %q", ErrInvalidSchema, spec)
	}
	m := attrTypePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(parts[1])))
	if m == nil {
		return Attribute{}, fmt.Errorf("%w: type %q", ErrInvalidSchema, parts[1])
	}
	a := Attribute{Name: strings.TrimSpace(parts[0])}
	switch m[1] {
	case "INT":
		a.Type = TypeInt
	case "FLOAT":
		a.Type = TypeFloat
	case "VARCHAR":
		a.Type = TypeVarchar
		a.Size = 32
	case "DATE":
		a.Type = TypeDate
	case "ARRAY[FLOAT]":
		a.Type = TypeFloatArray
		a.Size = 2
	}
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		a.Size = n
	}
	if len(parts) == 3 {
		k, err := ParseKind(parts[2])
		if err != nil {
			return Attribute{}, err
		}
		a.Index = k
	}
	return a, nil
}

// Schema describes a table: ordered attributes and the primary key.
type Schema struct {
	Table      string      `json:"table"`
	Attributes []Attribute `json:"attributes"`
	PrimaryKey string      `json:"primary_key"`
}

// Validate checks names, sizes and index bindings.
func (s *Schema) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidSchema)
	}
	if len(s.Attributes) == 0 {
		return fmt.Errorf("%w: table %s has no attributes", ErrInvalidSchema, s.Table)
	}
	seen := make(map[string]bool, len(s.Attributes))
	for _, a := range s.Attributes {
		if a.Name == "" || seen[a.Name] {
			return fmt.Errorf("%w: attribute name %q empty or repeated", ErrInvalidSchema, a.Name)
		}
		seen[a.Name] = true
		switch a.Type {
		case TypeInt, TypeFloat, TypeDate:
		case TypeVarchar:
			if a.Size <= 0 {
				return fmt.Errorf("%w: VARCHAR %s needs a positive capacity", ErrInvalidSchema, a.Name)
			}
		case TypeFloatArray:
			if a.Size <= 0 {
				return fmt.Errorf("%w: ARRAY[FLOAT] %s needs a positive length", ErrInvalidSchema, a.Name)
			}
		default:
			return fmt.Errorf("%w: attribute %s has unknown type", ErrInvalidSchema, a.Name)
		}
		switch {
		case a.Index == KindRTree:
			if a.Type != TypeFloatArray || (a.Size != 2 && a.Size != 3) {
				return fmt.Errorf("%w: RTREE on %s needs ARRAY[FLOAT](2) or (3)", ErrInvalidSchema, a.Name)
			}
		case a.Index != "" && a.Type == TypeFloatArray:
			return fmt.Errorf("%w: %s index cannot key on array column %s", ErrInvalidSchema, a.Index, a.Name)
		}
	}
	pk := s.Attr(s.PrimaryKey)
	if pk == nil {
		return fmt.Errorf("%w: primary key %q is not an attribute", ErrInvalidSchema, s.PrimaryKey)
	}
	if pk.Type == TypeFloatArray && pk.Index != KindRTree {
		return fmt.Errorf("%w: array primary key %s must be RTREE indexed", ErrInvalidSchema, pk.Name)
	}
	return nil
}

// Attr returns the named attribute or nil.
func (s *Schema) Attr(name string) *Attribute {
	if i := s.Position(name); i >= 0 {
		return &s.Attributes[i]
	}
	return nil
}

// Position returns the attribute index of name, or -1.
func (s *Schema) Position(name string) int {
	for i := range s.Attributes {
		if strings.EqualFold(s.Attributes[i].Name, name) {
			return i
		}
	}
	return -1
}

// Columns returns the attribute names in order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		cols[i] = a.Name
	}
	return cols
}

// RecordSize is the fixed encoded length of one record.
func (s *Schema) RecordSize() int {
	n := 0
	for _, a := range s.Attributes {
		n += a.Width()
	}
	return n
}

// Normalize coerces loosely typed input (JSON numbers, strings from a CLI)
// into a Row of canonical values.
func (s *Schema) Normalize(values []any) (Row, error) {
	if len(values) != len(s.Attributes) {
		return nil, fmt.Errorf("%w: table %s expects %d values, got %d",
			ErrInvalidPlan, s.Table, len(s.Attributes), len(values))
	}
	row := make(Row, len(values))
	for i, a := range s.Attributes {
		v, err := Coerce(a, values[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// NormalizeMap is Normalize for column-keyed input; missing columns get zero values.
func (s *Schema) NormalizeMap(values map[string]any) (Row, error) {
	ordered := make([]any, len(s.Attributes))
	for k, v := range values {
		i := s.Position(k)
		if i < 0 {
			return nil, fmt.Errorf("%w: table %s has no column %q", ErrInvalidPlan, s.Table, k)
		}
		ordered[i] = v
	}
	for i, a := range s.Attributes {
		if ordered[i] == nil {
			ordered[i] = zeroValue(a)
		}
	}
	return s.Normalize(ordered)
}

func zeroValue(a Attribute) any {
	switch a.Type {
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeDate:
		return "1970-01-01"
	case TypeFloatArray:
		return make([]float64, a.Size)
	}
	return ""
}

// Coerce converts v to the canonical Go type of attribute a.
func Coerce(a Attribute, v any) (Value, error) {
	bad := func() error {
		return fmt.Errorf("%w: value %v (%T) does not fit %s %s", ErrInvalidPlan, v, v, a.Name, a.Type)
	}
	switch a.Type {
	case TypeInt:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x != math.Trunc(x) {
				return nil, bad()
			}
			return int64(x), nil
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return nil, bad()
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, bad()
			}
			return n, nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return positiveZero(float64(x)), nil
		case float64:
			return positiveZero(x), nil
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, bad()
			}
			return positiveZero(f), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, bad()
			}
			return positiveZero(f), nil
		}
	case TypeVarchar:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		// Keys must equal what getValue decodes from the padded field.
		return strings.TrimRight(truncate(s, a.Size), "\x00 "), nil
	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, bad()
		}
		return s, nil
	case TypeFloatArray:
		return coerceArray(a, v)
	}
	return nil, bad()
}

func coerceArray(a Attribute, v any) (Value, error) {
	var out []float64
	switch x := v.(type) {
	case []float64:
		out = append(out, x...)
	case []any:
		for _, e := range x {
			f, err := Coerce(Attribute{Name: a.Name, Type: TypeFloat}, e)
			if err != nil {
				return nil, err
			}
			out = append(out, f.(float64))
		}
	case string:
		for _, part := range strings.Split(strings.Trim(x, "()[] "), ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad array element %q for %s", ErrInvalidPlan, part, a.Name)
			}
			out = append(out, f)
		}
	default:
		return nil, fmt.Errorf("%w: value %v (%T) does not fit %s %s", ErrInvalidPlan, v, v, a.Name, a.Type)
	}
	if len(out) != a.Size {
		return nil, fmt.Errorf("%w: %s expects %d elements, got %d", ErrInvalidPlan, a.Name, a.Size, len(out))
	}
	return out, nil
}

// positiveZero folds -0 into +0; the two compare equal and must hash equal.
func positiveZero(f float64) float64 {
	if f == 0 {
		return 0
	}
	return f
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}

// Encode serializes row into a fixed-length little-endian record.
func (s *Schema) Encode(row Row) ([]byte, error) {
	if len(row) != len(s.Attributes) {
		return nil, fmt.Errorf("%w: row has %d values, schema %d", ErrInvalidPlan, len(row), len(s.Attributes))
	}
	buf := make([]byte, s.RecordSize())
	pos := 0
	for i, a := range s.Attributes {
		if err := putValue(buf[pos:pos+a.Width()], a, row[i]); err != nil {
			return nil, err
		}
		pos += a.Width()
	}
	return buf, nil
}

// Decode is the inverse of Encode.
func (s *Schema) Decode(b []byte) (Row, error) {
	if len(b) != s.RecordSize() {
		return nil, fmt.Errorf("%w: record of %d bytes, schema %s wants %d",
			ErrCorruptHeader, len(b), s.Table, s.RecordSize())
	}
	row := make(Row, len(s.Attributes))
	pos := 0
	for i, a := range s.Attributes {
		row[i] = getValue(b[pos:pos+a.Width()], a)
		pos += a.Width()
	}
	return row, nil
}

// Field extracts a single attribute from an encoded record.
func (s *Schema) Field(b []byte, name string) (Value, error) {
	pos := 0
	for _, a := range s.Attributes {
		if strings.EqualFold(a.Name, name) {
			if pos+a.Width() > len(b) {
				return nil, fmt.Errorf("%w: short record", ErrCorruptHeader)
			}
			return getValue(b[pos:pos+a.Width()], a), nil
		}
		pos += a.Width()
	}
	return nil, fmt.Errorf("%w: table %s has no column %q", ErrColumnNotIndexed, s.Table, name)
}

func putValue(dst []byte, a Attribute, v Value) error {
	switch a.Type {
	case TypeInt:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("%w: %s wants int64, got %T", ErrInvalidPlan, a.Name, v)
		}
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case TypeFloat:
		x, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: %s wants float64, got %T", ErrInvalidPlan, a.Name, v)
		}
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	case TypeVarchar, TypeDate:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s wants string, got %T", ErrInvalidPlan, a.Name, v)
		}
		clear(dst)
		copy(dst, truncate(x, len(dst)))
	case TypeFloatArray:
		x, ok := v.([]float64)
		if !ok || len(x) != a.Size {
			return fmt.Errorf("%w: %s wants %d floats", ErrInvalidPlan, a.Name, a.Size)
		}
		for i, f := range x {
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(f))
		}
	}
	return nil
}

func getValue(src []byte, a Attribute) Value {
	switch a.Type {
	case TypeInt:
		return int64(binary.LittleEndian.Uint64(src))
	case TypeFloat:
		return math.Float64frombits(binary.LittleEndian.Uint64(src))
	case TypeVarchar, TypeDate:
		return strings.TrimRight(string(src), "\x00 ")
	case TypeFloatArray:
		out := make([]float64, a.Size)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
		}
		return out
	}
	return nil
}

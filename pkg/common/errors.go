package common

import "errors"

var (
	ErrTableNotFound        = errors.New("table not found")
	ErrTableExists          = errors.New("table already exists")
	ErrColumnNotIndexed     = errors.New("column not indexed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrDuplicateKey         = errors.New("duplicate key violation")
	ErrCorruptHeader        = errors.New("corrupt file header")
	ErrIOFailure            = errors.New("io failure")
	ErrInvalidSpatialQuery  = errors.New("invalid spatial query")
	ErrInvalidSchema        = errors.New("invalid schema")
	ErrInvalidPlan          = errors.New("invalid plan")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrTableNotFound, "TableNotFound"},
	{ErrTableExists, "TableExists"},
	{ErrColumnNotIndexed, "ColumnNotIndexed"},
	{ErrUnsupportedOperation, "UnsupportedOperation"},
	{ErrDuplicateKey, "DuplicateKeyViolation"},
	{ErrCorruptHeader, "CorruptFileHeader"},
	{ErrIOFailure, "IOFailure"},
	{ErrInvalidSpatialQuery, "InvalidSpatialQuery"},
	{ErrInvalidSchema, "InvalidSchema"},
	{ErrInvalidPlan, "InvalidPlan"},
}

// KindOf returns the taxonomy name of err, or "Internal" for anything that
// does not wrap a known sentinel. A nil error has no kind.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

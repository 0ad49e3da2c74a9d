package core

import (
	"indexlab/pkg/common"
	"indexlab/pkg/monitor"
)

// Operation is the logical operator of a plan.
type Operation string

const (
	OpEquality     Operation = "EQUALITY"
	OpRange        Operation = "RANGE"
	OpSpatialRange Operation = "SPATIAL_RANGE"
	OpKNN          Operation = "KNN"
	OpInsert       Operation = "INSERT"
	OpRemove       Operation = "REMOVE"
	OpScan         Operation = "SCAN"
)

// Args carries the operands; which ones are read depends on the operation.
// Record is either a positional []any or a column-keyed map[string]any.
type Args struct {
	Key    any       `json:"key,omitempty"`
	Low    any       `json:"low,omitempty"`
	High   any       `json:"high,omitempty"`
	Point  []float64 `json:"point,omitempty"`
	Radius float64   `json:"radius,omitempty"`
	K      int       `json:"k,omitempty"`
	Record any       `json:"record,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Plan is an already parsed request against one table (and, except for
// INSERT and SCAN, one indexed column).
type Plan struct {
	Operation Operation `json:"operation"`
	Table     string    `json:"table"`
	Column    string    `json:"column,omitempty"`
	Args      Args      `json:"args"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the normalized result of a dispatch. Distances parallels Rows
// for spatial operations.
type Response struct {
	Status       string          `json:"status"`
	Columns      []string        `json:"columns,omitempty"`
	Rows         []common.Row    `json:"rows,omitempty"`
	Distances    []float64       `json:"distances,omitempty"`
	RowsAffected int             `json:"rows_affected"`
	Message      string          `json:"message,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Metrics      monitor.Metrics `json:"metrics"`
}

func (r Response) Failed() bool { return r.Status == StatusError }

package query

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyQuery   = errors.New("please enter a query")
	ErrNotConnected = errors.New("database connection not initialized")
)

type Request struct {
	SQL     string
	MaxRows int
}

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is a result row as ordered key/value pairs; column order is kept
// because duplicate or positional column names are legal in SQL.
type Record []Field

func (r Record) Get(name string) (any, bool) {
	for _, field := range r {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

func (r Result) Records() []Record {
	records := make([]Record, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(Record, 0, len(r.Columns))
		for i, column := range r.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			record = append(record, Field{Name: column, Value: value})
		}
		records = append(records, record)
	}
	return records
}

func (r Result) Empty() bool {
	return len(r.Rows) == 0
}

type Status struct {
	Connected bool
	Err       error
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Normalize trims surrounding whitespace and rejects blank input. The text is
// otherwise passed to the engine unchanged.
func Normalize(sqlText string) (string, error) {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return "", ErrEmptyQuery
	}
	return trimmed, nil
}

// Package export encodes query results as parquet files.
package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/duckpad/duckpad/internal/query"
	"github.com/duckpad/duckpad/internal/render"
)

const ContentType = "application/vnd.apache.parquet"

type Encoded struct {
	Data     []byte
	RowCount int64
	Columns  []string
}

type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindDouble
	kindBoolean
)

// EncodeParquet writes result as a single parquet file. Every column is
// optional; its physical type comes from the first non-null value and falls
// back to string when values disagree.
func EncodeParquet(result query.Result) (Encoded, error) {
	if len(result.Columns) == 0 {
		return Encoded{}, fmt.Errorf("result has no columns")
	}

	names := uniqueColumnNames(result.Columns)
	kinds := inferKinds(result)

	group := parquet.Group{}
	for i, name := range names {
		group[name] = parquet.Optional(nodeFor(kinds[i]))
	}
	schema := parquet.NewSchema("query_result", group)

	// Group fields are laid out by name, not by result position.
	leafIndex := make(map[string]int, len(names))
	for index, columnPath := range schema.Columns() {
		leafIndex[columnPath[0]] = index
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for rowNumber, values := range result.Rows {
		row := make(parquet.Row, len(names))
		for i, name := range names {
			var value any
			if i < len(values) {
				value = values[i]
			}
			encoded, err := encodeValue(kinds[i], value)
			if err != nil {
				return Encoded{}, fmt.Errorf("row %d column %q: %w", rowNumber, result.Columns[i], err)
			}
			index := leafIndex[name]
			if value == nil {
				row[index] = parquet.NullValue().Level(0, 0, index)
				continue
			}
			row[index] = encoded.Level(0, 1, index)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return Encoded{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Encoded{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return Encoded{
		Data:     buf.Bytes(),
		RowCount: int64(len(rows)),
		Columns:  names,
	}, nil
}

func nodeFor(kind columnKind) parquet.Node {
	switch kind {
	case kindInt64:
		return parquet.Int(64)
	case kindDouble:
		return parquet.Leaf(parquet.DoubleType)
	case kindBoolean:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func inferKinds(result query.Result) []columnKind {
	kinds := make([]columnKind, len(result.Columns))
	for i := range result.Columns {
		seen := false
		for _, row := range result.Rows {
			if i >= len(row) || row[i] == nil {
				continue
			}
			kind := kindOf(row[i])
			if !seen {
				kinds[i] = kind
				seen = true
				continue
			}
			if kinds[i] != kind {
				kinds[i] = kindString
				break
			}
		}
	}
	return kinds
}

func kindOf(value any) columnKind {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt64
	case float32, float64:
		return kindDouble
	case bool:
		return kindBoolean
	default:
		return kindString
	}
}

func encodeValue(kind columnKind, value any) (parquet.Value, error) {
	if value == nil {
		return parquet.NullValue(), nil
	}
	switch kind {
	case kindInt64:
		n, ok := toInt64(value)
		if !ok {
			return parquet.Value{}, fmt.Errorf("unexpected integer value %T", value)
		}
		return parquet.Int64Value(n), nil
	case kindDouble:
		switch typed := value.(type) {
		case float32:
			return parquet.DoubleValue(float64(typed)), nil
		case float64:
			return parquet.DoubleValue(typed), nil
		}
		return parquet.Value{}, fmt.Errorf("unexpected float value %T", value)
	case kindBoolean:
		typed, ok := value.(bool)
		if !ok {
			return parquet.Value{}, fmt.Errorf("unexpected boolean value %T", value)
		}
		return parquet.BooleanValue(typed), nil
	default:
		return parquet.ByteArrayValue([]byte(render.FormatValue(value))), nil
	}
}

func toInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	default:
		return 0, false
	}
}

// uniqueColumnNames suffixes repeated names (a, a_2, a_3) and names blank
// columns by position, since parquet requires distinct field names.
func uniqueColumnNames(columns []string) []string {
	used := make(map[string]bool, len(columns))
	names := make([]string, len(columns))
	for i, column := range columns {
		base := column
		if base == "" {
			base = "column_" + strconv.Itoa(i+1)
		}
		name := base
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

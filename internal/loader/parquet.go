package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

// EncodeParquet writes the dataset as a single parquet file with one optional
// column per input column. Parquet groups order their fields by name, so the
// file's column order is alphabetical.
func EncodeParquet(dataset Dataset, types []string) (EncodeResult, error) {
	if len(dataset.Rows) == 0 {
		return EncodeResult{}, fmt.Errorf("rows are required")
	}
	if len(types) != len(dataset.Columns) {
		return EncodeResult{}, fmt.Errorf("got %d column types for %d columns", len(types), len(dataset.Columns))
	}

	group := parquet.Group{}
	for i, name := range dataset.Columns {
		node, err := parquetNode(types[i])
		if err != nil {
			return EncodeResult{}, fmt.Errorf("column %q: %w", name, err)
		}
		group[name] = parquet.Optional(node)
	}
	schema := parquet.NewSchema("row", group)

	leafIndex := map[string]int{}
	for i, path := range schema.Columns() {
		leafIndex[strings.Join(path, ".")] = i
	}

	rows := make([]parquet.Row, 0, len(dataset.Rows))
	for line, record := range dataset.Rows {
		row := make(parquet.Row, len(dataset.Columns))
		for i, name := range dataset.Columns {
			columnIndex := leafIndex[name]
			var cell any
			if i < len(record) {
				cell = record[i]
			}
			value, err := parquetValue(types[i], cell)
			if err != nil {
				return EncodeResult{}, fmt.Errorf("row %d column %q: %w", line+1, name, err)
			}
			row[columnIndex] = value.Level(0, definitionLevel(cell), columnIndex)
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}

func parquetNode(columnType string) (parquet.Node, error) {
	switch columnType {
	case TypeBigint:
		return parquet.Int(64), nil
	case TypeDouble:
		return parquet.Leaf(parquet.DoubleType), nil
	case TypeBoolean:
		return parquet.Leaf(parquet.BooleanType), nil
	case TypeVarchar:
		return parquet.String(), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", columnType)
	}
}

func definitionLevel(cell any) int {
	if cell == nil {
		return 0
	}
	return 1
}

func parquetValue(columnType string, cell any) (parquet.Value, error) {
	if cell == nil {
		return parquet.NullValue(), nil
	}
	text := cellText(cell)
	switch columnType {
	case TypeBigint:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int64Value(v), nil
	case TypeDouble:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.DoubleValue(v), nil
	case TypeBoolean:
		if b, ok := cell.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
		v, err := strconv.ParseBool(text)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.BooleanValue(v), nil
	default:
		return parquet.ByteArrayValue([]byte(text)), nil
	}
}

func cellText(cell any) string {
	switch typed := cell.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}

package loader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// Column types written to parquet, named as DuckDB reports them.
const (
	TypeBigint  = "BIGINT"
	TypeDouble  = "DOUBLE"
	TypeBoolean = "BOOLEAN"
	TypeVarchar = "VARCHAR"
)

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "csv":
		return FormatCSV, nil
	case "jsonl", "ndjson", "json":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unsupported format %q", value)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer format of %q", path)
	}
	return ParseFormat(ext)
}

// Dataset is a decoded input file. A nil cell is a missing value.
type Dataset struct {
	Columns []string
	Rows    [][]any
}

func Read(format Format, r io.Reader) (Dataset, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r)
	case FormatJSONL:
		return ReadJSONLines(r)
	default:
		return Dataset{}, fmt.Errorf("unsupported format %q", format)
	}
}

// ReadCSV expects a header row. Empty cells are missing values.
func ReadCSV(r io.Reader) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("csv header row is required")
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv header: %w", err)
	}
	columns, err := normalizeColumns(header)
	if err != nil {
		return Dataset{}, err
	}

	dataset := Dataset{Columns: columns}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make([]any, len(columns))
		for i, cell := range record {
			if cell == "" {
				continue
			}
			row[i] = cell
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset, nil
}

// ReadJSONLines reads one JSON object per line. Columns appear in first-seen
// order; nested values are kept as JSON text.
func ReadJSONLines(r io.Reader) (Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	index := map[string]int{}
	var columns []string
	var records []map[string]any
	for line := 1; scanner.Scan(); line++ {
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		keys, record, err := decodeObject(text)
		if err != nil {
			return Dataset{}, fmt.Errorf("decode json line %d: %w", line, err)
		}
		for _, key := range keys {
			if _, ok := index[key]; !ok {
				index[key] = len(columns)
				columns = append(columns, key)
			}
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return Dataset{}, fmt.Errorf("read json lines: %w", err)
	}
	if len(columns) == 0 {
		return Dataset{}, fmt.Errorf("json lines input has no fields")
	}
	if _, err := normalizeColumns(columns); err != nil {
		return Dataset{}, err
	}

	dataset := Dataset{Columns: columns, Rows: make([][]any, 0, len(records))}
	for _, record := range records {
		row := make([]any, len(columns))
		for key, value := range record {
			row[index[key]] = value
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset, nil
}

func decodeObject(text []byte) ([]string, map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(text))
	decoder.UseNumber()
	token, err := decoder.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected a json object")
	}
	var keys []string
	record := map[string]any{}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := token.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected an object key")
		}
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return nil, nil, err
		}
		value, err := scalarValue(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, seen := record[key]; !seen {
			keys = append(keys, key)
		}
		record[key] = value
	}
	return keys, record, nil
}

// scalarValue keeps strings, numbers and booleans as text or bool; objects
// and arrays become their JSON text; null is a missing value.
func scalarValue(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	case trimmed[0] == '"':
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return nil, err
		}
		return value, nil
	case bytes.Equal(trimmed, []byte("true")):
		return true, nil
	case bytes.Equal(trimmed, []byte("false")):
		return false, nil
	case trimmed[0] == '{' || trimmed[0] == '[':
		return string(trimmed), nil
	default:
		return json.Number(trimmed), nil
	}
}

func normalizeColumns(header []string) ([]string, error) {
	seen := map[string]struct{}{}
	columns := make([]string, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[key] = struct{}{}
		columns = append(columns, name)
	}
	return columns, nil
}

// InferTypes picks the narrowest of BIGINT, DOUBLE, BOOLEAN and VARCHAR that
// holds every present value of each column.
func InferTypes(dataset Dataset) []string {
	types := make([]string, len(dataset.Columns))
	for col := range dataset.Columns {
		isInt, isFloat, isBool, present := true, true, true, false
		for _, row := range dataset.Rows {
			value := row[col]
			if value == nil {
				continue
			}
			present = true
			switch typed := value.(type) {
			case bool:
				isInt, isFloat = false, false
			case json.Number:
				isBool = false
				if _, err := typed.Int64(); err != nil {
					isInt = false
				}
				if _, err := typed.Float64(); err != nil {
					isFloat = false
				}
			case string:
				if _, err := strconv.ParseInt(typed, 10, 64); err != nil {
					isInt = false
				}
				if f, err := strconv.ParseFloat(typed, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
					isFloat = false
				}
				if _, err := strconv.ParseBool(typed); err != nil || isNumericBool(typed) {
					isBool = false
				}
			default:
				isInt, isFloat, isBool = false, false, false
			}
		}
		switch {
		case !present:
			types[col] = TypeVarchar
		case isInt:
			types[col] = TypeBigint
		case isFloat:
			types[col] = TypeDouble
		case isBool:
			types[col] = TypeBoolean
		default:
			types[col] = TypeVarchar
		}
	}
	return types
}

// isNumericBool reports the strconv.ParseBool spellings that are digits, so
// a 0/1 column stays numeric.
func isNumericBool(value string) bool {
	return value == "0" || value == "1"
}

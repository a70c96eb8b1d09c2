// Package codec converts entity records to and from the flat ordered field
// rows stored in a worksheet. Encoding is strict: a record field with no
// schema column is a schema mismatch. Decoding is total: it never fails,
// missing trailing cells and empty cells decode to the absent-field
// sentinel, and a cell that does not parse as its column type is kept as its
// raw string so externally edited rows still round-trip through the engine.
package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yln-platform/sheetstore/pkg/types"
)

// Boolean wire values, matching what the spreadsheet UI renders.
const (
	boolTrue  = "TRUE"
	boolFalse = "FALSE"
)

// Encode maps a record onto the schema's column order. Absent fields encode
// to empty cells. Returns ErrSchemaMismatch if the record carries a field
// that is not a schema column.
func Encode(rec types.Record, s types.Schema) ([]string, error) {
	for name := range rec {
		if _, ok := s.Column(name); !ok {
			return nil, fmt.Errorf("field %q: %w", name, types.ErrSchemaMismatch)
		}
	}
	row := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		v, ok := rec[col.Name]
		if !ok || v == nil {
			continue
		}
		cell, err := encodeValue(v, col.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", col.Name, err)
		}
		row[i] = cell
	}
	return row, nil
}

// Decode maps an ordered row back to a record. Cells beyond the row's length
// and empty cells decode to absent fields.
func Decode(row []string, s types.Schema) types.Record {
	rec := make(types.Record, len(s.Columns))
	for i, col := range s.Columns {
		if i >= len(row) || row[i] == "" {
			continue
		}
		rec[col.Name] = decodeValue(row[i], col.Type)
	}
	return rec
}

// encodeValue renders one scalar per the column type. Coercion rules:
//
//	string:    fmt.Sprint of the value
//	integer:   int/int64, or float64 with no fractional part
//	float:     float64/int/int64, shortest decimal form
//	boolean:   bool -> TRUE/FALSE
//	timestamp: time.Time -> RFC3339 in UTC
func encodeValue(v any, t types.FieldType) (string, error) {
	switch t {
	case types.FieldString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case types.FieldInteger:
		switch n := v.(type) {
		case int:
			return strconv.FormatInt(int64(n), 10), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case float64:
			if n != float64(int64(n)) {
				return "", fmt.Errorf("value %v is not integral", n)
			}
			return strconv.FormatInt(int64(n), 10), nil
		}
	case types.FieldFloat:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64), nil
		case int:
			return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
		case int64:
			return strconv.FormatFloat(float64(n), 'g', -1, 64), nil
		}
	case types.FieldBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return boolTrue, nil
			}
			return boolFalse, nil
		}
		// Tolerate string forms already on the wire.
		if s, ok := v.(string); ok {
			switch strings.ToUpper(strings.TrimSpace(s)) {
			case boolTrue, "1":
				return boolTrue, nil
			case boolFalse, "0":
				return boolFalse, nil
			}
		}
	case types.FieldTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(types.TimeFormat), nil
		}
		if s, ok := v.(string); ok {
			if parsed, err := time.Parse(types.TimeFormat, s); err == nil {
				return parsed.UTC().Format(types.TimeFormat), nil
			}
		}
	default:
		return "", fmt.Errorf("unknown field type %q", t)
	}
	return "", fmt.Errorf("cannot encode %T as %s", v, t)
}

// decodeValue parses one cell per the column type, falling back to the raw
// string when the cell does not parse.
func decodeValue(cell string, t types.FieldType) any {
	switch t {
	case types.FieldInteger:
		if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return n
		}
	case types.FieldFloat:
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
	case types.FieldBoolean:
		switch strings.ToUpper(strings.TrimSpace(cell)) {
		case boolTrue, "1":
			return true
		case boolFalse, "0":
			return false
		}
	case types.FieldTimestamp:
		if ts, err := time.Parse(types.TimeFormat, cell); err == nil {
			return ts.UTC()
		}
	}
	return cell
}

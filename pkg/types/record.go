package types

import "time"

// FieldType names the scalar type of a worksheet column.
type FieldType string

// Supported column types.
const (
	FieldString    FieldType = "string"
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
	FieldTimestamp FieldType = "timestamp"
)

// Record is a mapping from field name to scalar value. Canonical value types
// are string, int64, float64, bool, and time.Time (UTC); an absent field is
// the null sentinel.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are scalars, so a
// shallow copy is a full copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with the fields of partial applied on top.
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(partial))
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Column is a single named, typed worksheet column.
type Column struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// Schema is the ordered column list for one entity type's worksheet. Column
// order is fixed at first creation and stable for the worksheet's lifetime.
type Schema struct {
	EntityType string   `json:"entity_type" yaml:"entity_type"`
	IDField    string   `json:"id_field" yaml:"id_field"`
	Columns    []Column `json:"columns" yaml:"columns"`
}

// Header returns the column names in schema order, the worksheet's row 1.
func (s Schema) Header() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks that the schema is well-formed: a non-empty entity type,
// uniquely named columns, and an ID field that is one of them.
func (s Schema) Validate() error {
	if s.EntityType == "" {
		return ErrEntityTypeEmpty
	}
	if s.IDField == "" {
		return ErrIDFieldEmpty
	}
	if len(s.Columns) == 0 {
		return ErrSchemaEmpty
	}
	seen := make(map[string]bool, len(s.Columns))
	idPresent := false
	for _, c := range s.Columns {
		if c.Name == "" {
			return ErrColumnNameEmpty
		}
		if seen[c.Name] {
			return ErrDuplicateColumn
		}
		seen[c.Name] = true
		if c.Name == s.IDField {
			idPresent = true
		}
	}
	if !idPresent {
		return ErrIDFieldMissing
	}
	return nil
}

// Timestamp format used on the wire and in the local store.
const TimeFormat = time.RFC3339

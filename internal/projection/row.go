package projection

import (
	"bytes"
	"encoding/json"
)

// Row is a projected record: field names and values in column set order
type Row struct {
	fields []string
	values []any
}

// NewRow creates an empty row with room for n fields
func NewRow(n int) Row {
	return Row{
		fields: make([]string, 0, n),
		values: make([]any, 0, n),
	}
}

// Set appends a field. Fields are expected in column order and unique.
func (r *Row) Set(field string, value any) {
	r.fields = append(r.fields, field)
	r.values = append(r.values, value)
}

// Get returns the value of field
func (r Row) Get(field string) (any, bool) {
	for i, f := range r.fields {
		if f == field {
			return r.values[i], true
		}
	}
	return nil, false
}

// Fields returns the field names in order
func (r Row) Fields() []string {
	return r.fields
}

// Values returns the values in field order
func (r Row) Values() []any {
	return r.values
}

// Len returns the number of fields
func (r Row) Len() int {
	return len(r.fields)
}

// Strings returns the row as delimited-text cells. List values still present
// (rows projected without flattening) are joined the same way flattening does.
func (r Row) Strings() []string {
	cells := make([]string, len(r.values))
	for i, v := range r.values {
		if IsList(v) {
			cells[i] = JoinFlat(v)
			continue
		}
		cells[i] = ToString(v)
	}
	return cells
}

// MarshalJSON encodes the row as a JSON object keeping field order
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

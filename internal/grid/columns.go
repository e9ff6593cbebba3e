package grid

import (
	"sort"
)

// DataType is the declared type of a grid column
type DataType string

const (
	TypeText        DataType = "text"
	TypeNumber      DataType = "number"
	TypePrice       DataType = "price"
	TypeDate        DataType = "date"
	TypeSelect      DataType = "select"
	TypeMultiselect DataType = "multiselect"
	TypeThumbnail   DataType = "thumbnail"
	TypeActions     DataType = "actions"
)

// Column names that never take part in an export
const (
	ColumnIDs     = "ids"
	ColumnActions = "actions"
)

// ColumnDescriptor describes one grid column as seen by the saved view
type ColumnDescriptor struct {
	Name     string   `json:"name" yaml:"name"`
	Label    string   `json:"label" yaml:"label"`
	DataType DataType `json:"data_type" yaml:"data_type"`
	Visible  bool     `json:"visible" yaml:"visible"`
	Position *int     `json:"position,omitempty" yaml:"position,omitempty"`
}

// Eligible reports whether the column can be exported at all
func (c ColumnDescriptor) Eligible() bool {
	if !c.Visible || c.Label == "" {
		return false
	}
	if c.Name == ColumnIDs || c.Name == ColumnActions {
		return false
	}
	return c.DataType != TypeActions
}

// ActiveColumns filters columns down to the exportable ones and orders them by
// position. Columns without a position sort after every positioned column;
// equal positions keep the order they were given in.
func ActiveColumns(columns []ColumnDescriptor) []ColumnDescriptor {
	active := make([]ColumnDescriptor, 0, len(columns))
	for _, c := range columns {
		if c.Eligible() {
			active = append(active, c)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		pi, pj := active[i].Position, active[j].Position
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return *pi < *pj
		}
	})

	return active
}

// ColumnSet is the stable export schema of one session
type ColumnSet struct {
	Names  []string
	Labels []string
	Types  map[string]DataType
}

// NewColumnSet builds the export schema from already ordered active columns
func NewColumnSet(active []ColumnDescriptor) ColumnSet {
	set := ColumnSet{
		Names:  make([]string, 0, len(active)),
		Labels: make([]string, 0, len(active)),
		Types:  make(map[string]DataType, len(active)),
	}
	for _, c := range active {
		set.Names = append(set.Names, c.Name)
		set.Labels = append(set.Labels, c.Label)
		set.Types[c.Name] = c.DataType
	}
	return set
}

// Len returns the number of columns
func (s ColumnSet) Len() int {
	return len(s.Names)
}

// TypeOf returns the declared type of a column, or "" if unknown
func (s ColumnSet) TypeOf(name string) DataType {
	return s.Types[name]
}

// FieldsOfType returns the names of the columns declared with type t, in order
func (s ColumnSet) FieldsOfType(t DataType) []string {
	var fields []string
	for _, name := range s.Names {
		if s.Types[name] == t {
			fields = append(fields, name)
		}
	}
	return fields
}

package grid

// Record is one row of a grid result. Implementations must be safe to read
// repeatedly; the export pipeline never mutates a Record.
type Record interface {
	// Data returns the stored value of field, or nil when absent.
	Data(field string) any
	// AttributeText returns the human readable label of field (option text for
	// select and multiselect attributes), or nil when the row carries none.
	AttributeText(field string) any
}

// MapRecord is a Record backed by two maps.
type MapRecord struct {
	Values map[string]any
	Labels map[string]any
}

// NewMapRecord creates an empty MapRecord
func NewMapRecord() *MapRecord {
	return &MapRecord{
		Values: make(map[string]any),
		Labels: make(map[string]any),
	}
}

// Data implements Record
func (r *MapRecord) Data(field string) any {
	if r == nil || r.Values == nil {
		return nil
	}
	return r.Values[field]
}

// AttributeText implements Record
func (r *MapRecord) AttributeText(field string) any {
	if r == nil || r.Labels == nil {
		return nil
	}
	return r.Labels[field]
}

// overlayRecord shadows selected values of an underlying record.
type overlayRecord struct {
	base   Record
	values map[string]any
}

// WithValues returns a Record that reports values for the given fields and
// defers everything else to base. base is left untouched.
func WithValues(base Record, values map[string]any) Record {
	if len(values) == 0 {
		return base
	}
	return &overlayRecord{base: base, values: values}
}

func (o *overlayRecord) Data(field string) any {
	if v, ok := o.values[field]; ok {
		return v
	}
	return o.base.Data(field)
}

func (o *overlayRecord) AttributeText(field string) any {
	return o.base.AttributeText(field)
}

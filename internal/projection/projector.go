package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"gridexport/internal/grid"
)

// Fields with dedicated resolution rules
const (
	FieldSharedCatalog = "shared_catalog"
	FieldAttributeSet  = "attribute_set_id"
	FieldWebsites      = "websites"
)

// ErrNilRecord is returned when Project is called without a record
var ErrNilRecord = errors.New("nil record")

// Options controls the shape of projected values
type Options struct {
	// Flatten collapses list values into one ", " joined string and renders
	// every scalar as a string.
	Flatten bool
}

// DefaultOptions are the options used for delimited-text output
func DefaultOptions() Options {
	return Options{Flatten: true}
}

type resolverKind int

const (
	resolveSharedCatalog resolverKind = iota
	resolveAttributeSet
	resolveWebsites
	resolveSelect
	resolveMultiselect
	resolveRaw
)

func (k resolverKind) String() string {
	switch k {
	case resolveSharedCatalog:
		return "shared_catalog"
	case resolveAttributeSet:
		return "attribute_set"
	case resolveWebsites:
		return "websites"
	case resolveSelect:
		return "select"
	case resolveMultiselect:
		return "multiselect"
	default:
		return "raw"
	}
}

type resolverRule struct {
	kind    resolverKind
	matches func(field string, t grid.DataType) bool
}

func fieldIs(name string) func(string, grid.DataType) bool {
	return func(field string, _ grid.DataType) bool { return field == name }
}

func typeIs(t grid.DataType) func(string, grid.DataType) bool {
	return func(_ string, dt grid.DataType) bool { return dt == t }
}

// resolverRules is evaluated top to bottom; the first match wins.
var resolverRules = []resolverRule{
	{kind: resolveSharedCatalog, matches: fieldIs(FieldSharedCatalog)},
	{kind: resolveAttributeSet, matches: fieldIs(FieldAttributeSet)},
	{kind: resolveWebsites, matches: fieldIs(FieldWebsites)},
	{kind: resolveSelect, matches: typeIs(grid.TypeSelect)},
	{kind: resolveMultiselect, matches: typeIs(grid.TypeMultiselect)},
}

func resolverFor(field string, t grid.DataType) resolverKind {
	for _, rule := range resolverRules {
		if rule.matches(field, t) {
			return rule.kind
		}
	}
	return resolveRaw
}

// Projector turns grid records into ordered export rows
type Projector struct {
	attributeSets grid.AttributeSetLookup
	websites      grid.WebsiteLookup
	dates         *DateNormalizer
}

// ProjectorOption configures a Projector
type ProjectorOption func(*Projector)

// WithDateNormalizer sets the normalizer applied to date columns
func WithDateNormalizer(n *DateNormalizer) ProjectorOption {
	return func(p *Projector) {
		p.dates = n
	}
}

// NewProjector creates a projector. Either lookup may be nil, in which case the
// corresponding fields resolve to empty values.
func NewProjector(attributeSets grid.AttributeSetLookup, websites grid.WebsiteLookup, opts ...ProjectorOption) *Projector {
	p := &Projector{
		attributeSets: attributeSets,
		websites:      websites,
		dates:         &DateNormalizer{Location: time.UTC, Format: DefaultDateFormat},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project resolves every column of cols against rec. A resolver that panics
// fails the row instead of the process.
func (p *Projector) Project(ctx context.Context, rec grid.Record, cols grid.ColumnSet, opts Options) (row Row, err error) {
	if rec == nil {
		return Row{}, ErrNilRecord
	}

	current := ""
	defer func() {
		if r := recover(); r != nil {
			row = Row{}
			err = fmt.Errorf("projecting field %q: panic: %v", current, r)
		}
	}()

	rec, err = p.dates.Normalize(rec, cols.FieldsOfType(grid.TypeDate))
	if err != nil {
		return Row{}, fmt.Errorf("normalizing dates: %w", err)
	}

	row = NewRow(cols.Len())
	for _, field := range cols.Names {
		current = field
		value := p.resolve(ctx, rec, field, resolverFor(field, cols.TypeOf(field)))
		if opts.Flatten {
			value = flattenValue(value)
		}
		row.Set(field, value)
	}

	return row, nil
}

func (p *Projector) resolve(ctx context.Context, rec grid.Record, field string, kind resolverKind) any {
	switch kind {
	case resolveSharedCatalog:
		return ""

	case resolveAttributeSet:
		if p.attributeSets == nil {
			return ""
		}
		raw := rec.Data(field)
		if isBlank(raw) {
			return ""
		}
		name, err := p.attributeSets.AttributeSetName(ctx, raw)
		if err != nil {
			return ""
		}
		return name

	case resolveWebsites:
		ids := websiteIDs(rec.Data(field))
		names := make([]any, 0, len(ids))
		for _, id := range ids {
			names = append(names, p.websiteName(ctx, id))
		}
		return names

	case resolveSelect:
		if label := strings.TrimSpace(ToString(rec.AttributeText(field))); label != "" {
			return label
		}
		return ToString(rec.Data(field))

	case resolveMultiselect:
		return rec.AttributeText(field)

	default:
		return rec.Data(field)
	}
}

func (p *Projector) websiteName(ctx context.Context, id any) string {
	if p.websites == nil {
		return ""
	}
	name, err := p.websites.WebsiteName(ctx, id)
	if err != nil {
		return ""
	}
	return name
}

// websiteIDs normalizes a stored websites value (nil, scalar or list) to a
// list. A scalar zero means no websites.
func websiteIDs(raw any) []any {
	if isBlank(raw) || isZero(raw) {
		return nil
	}
	if IsList(raw) {
		return Flatten(raw)
	}
	return []any{raw}
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []byte:
		return len(val) == 0
	}
	return IsList(v) && len(Flatten(v)) == 0
}

func isZero(v any) bool {
	switch val := v.(type) {
	case string:
		return val == "0"
	case []byte:
		return string(val) == "0"
	case bool:
		return !val
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(val) == 0
	}
	return false
}

func flattenValue(v any) string {
	if IsList(v) {
		return JoinFlat(v)
	}
	return ToString(v)
}

package projection

import (
	"fmt"
	"strings"
	"time"

	"gridexport/internal/grid"
)

// DefaultDateFormat renders dates as "Jan 2, 2006 15:04:05 PM"
const DefaultDateFormat = "Jan 2, 2006 15:04:05 PM"

// storedDateLayouts are the layouts dates arrive in from the row source. Values
// without a zone are stored in UTC.
var storedDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// DateNormalizer converts stored dates into the display format of the admin locale
type DateNormalizer struct {
	Location *time.Location
	Format   string
}

// NewDateNormalizer creates a normalizer for the given IANA zone and layout.
// An empty zone means UTC; an empty layout means DefaultDateFormat.
func NewDateNormalizer(zone, layout string) (*DateNormalizer, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", zone, err)
		}
		loc = l
	}
	if layout == "" {
		layout = DefaultDateFormat
	}
	return &DateNormalizer{Location: loc, Format: layout}, nil
}

// Normalize returns rec with every listed date field rewritten in display format.
// Empty and zero dates become ""; a value that is not a date is an error.
func (n *DateNormalizer) Normalize(rec grid.Record, fields []string) (grid.Record, error) {
	if n == nil || len(fields) == 0 {
		return rec, nil
	}

	converted := make(map[string]any, len(fields))
	for _, field := range fields {
		raw := rec.Data(field)
		t, ok, err := parseStoredDate(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		if !ok {
			converted[field] = ""
			continue
		}
		converted[field] = t.In(n.Location).Format(n.Format)
	}

	return grid.WithValues(rec, converted), nil
}

func parseStoredDate(raw any) (time.Time, bool, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v, true, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false, nil
		}
		return *v, true, nil
	case []byte:
		return parseStoredDate(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.HasPrefix(s, "0000-00-00") {
			return time.Time{}, false, nil
		}
		for _, layout := range storedDateLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognized date %q", s)
	default:
		return time.Time{}, false, fmt.Errorf("unsupported date value of type %T", raw)
	}
}

package exporter

import (
	"fmt"
	"strings"

	"gridexport/internal/projection"
)

// Format is an export wire format
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat returns the format named s (case insensitive)
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// String implements fmt.Stringer
func (f Format) String() string {
	return string(f)
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	return string(f)
}

// FileName returns the attachment name used for streamed downloads
func (f Format) FileName() string {
	return "export." + f.Extension()
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatJSONL {
		return "application/jsonl"
	}
	return "text/csv"
}

// HasHeader reports whether the format starts with a header row.
// JSON-Lines records carry their field names and need none.
func (f Format) HasHeader() bool {
	return f == FormatCSV
}

// ProjectionOptions returns how rows are projected for the format:
// CSV always flattens, JSON-Lines keeps lists.
func (f Format) ProjectionOptions() projection.Options {
	return projection.Options{Flatten: f == FormatCSV}
}

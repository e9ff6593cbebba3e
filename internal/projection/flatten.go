package projection

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// ListSeparator joins flattened values
const ListSeparator = ", "

// IsList reports whether v is a list value (any slice or array except []byte)
func IsList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// Flatten collapses nested lists into one flat list of scalars, at any depth.
// A scalar input yields a one element list.
func Flatten(v any) []any {
	var out []any
	flattenInto(&out, v)
	return out
}

func flattenInto(out *[]any, v any) {
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			flattenInto(out, item)
		}
		return
	case []string:
		for _, item := range list {
			*out = append(*out, item)
		}
		return
	}

	if !IsList(v) {
		*out = append(*out, v)
		return
	}

	rv := reflect.ValueOf(v)
	for i := 0; i < rv.Len(); i++ {
		flattenInto(out, rv.Index(i).Interface())
	}
}

// JoinFlat flattens v and joins the scalars with ListSeparator
func JoinFlat(v any) string {
	flat := Flatten(v)
	parts := make([]string, len(flat))
	for i, item := range flat {
		parts[i] = ToString(item)
	}
	return strings.Join(parts, ListSeparator)
}

// ToString renders a scalar for delimited output; nil becomes "".
func ToString(v any) string {
	if v == nil {
		return ""
	}
	return cast.ToString(v)
}

package projection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsList(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"string", "a", false},
		{"bytes", []byte("a"), false},
		{"int", 3, false},
		{"any slice", []any{"a"}, true},
		{"string slice", []string{"a"}, true},
		{"int slice", []int{1, 2}, true},
		{"array", [2]string{"a", "b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsList(tt.value))
		})
	}
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []any
	}{
		{"scalar", "a", []any{"a"}},
		{"flat", []any{"a", "b"}, []any{"a", "b"}},
		{"nested", []any{[]any{"a", "b"}, []any{"c"}}, []any{"a", "b", "c"}},
		{"deep", []any{[]any{[]any{[]any{"x"}}}, "y"}, []any{"x", "y"}},
		{"typed slices", []any{[]string{"a"}, []int{1, 2}}, []any{"a", 1, 2}},
		{"empty", []any{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Flatten(tt.value))
		})
	}
}

func TestJoinFlat(t *testing.T) {
	nested := []any{[]any{"a", "b"}, []any{"c"}}
	assert.Equal(t, "a, b, c", JoinFlat(nested))
	assert.Equal(t, "1, 2", JoinFlat([]int{1, 2}))
	assert.Equal(t, "", JoinFlat([]any{}))
	assert.Equal(t, "x, ", JoinFlat([]any{"x", nil}))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "42", ToString(42))
	assert.Equal(t, "3.5", ToString(3.5))
	assert.Equal(t, "abc", ToString([]byte("abc")))
	assert.Equal(t, "true", ToString(true))
}

func TestRow(t *testing.T) {
	row := NewRow(3)
	row.Set("sku", "A-1")
	row.Set("qty", 4)
	row.Set("tags", []any{"x", []any{"y"}})

	assert.Equal(t, 3, row.Len())
	assert.Equal(t, []string{"sku", "qty", "tags"}, row.Fields())

	v, ok := row.Get("qty")
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok = row.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"A-1", "4", "x, y"}, row.Strings())
}

func TestRow_MarshalJSONKeepsOrder(t *testing.T) {
	row := NewRow(3)
	row.Set("z", "last letter")
	row.Set("a", []any{"1", []any{"2"}})
	row.Set("m", nil)

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"last letter","a":["1",["2"]],"m":null}`, string(data))

	empty, err := json.Marshal(NewRow(0))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

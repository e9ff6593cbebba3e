package grid

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionsYAML = `
grids:
  - name: product_listing
    query: SELECT entity_id, sku FROM catalog_product_entity ORDER BY entity_id
    id_column: entity_id
    columns:
      - name: entity_id
        label: ID
        data_type: number
        visible: true
      - name: websites
        label: Websites
        data_type: text
        visible: true
        list_separator: ","
`

func writeDefinitions(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "grids.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeDefinitions(t, t.TempDir(), definitionsYAML)

	reg, err := LoadRegistry(path, nil)
	require.NoError(t, err)

	def, ok := reg.Get("product_listing")
	require.True(t, ok)
	assert.Equal(t, "entity_id", def.IDColumn)
	require.Len(t, def.Columns, 2)
	assert.Equal(t, "ID", def.Columns[0].Label)
	assert.Equal(t, TypeNumber, def.Columns[0].DataType)

	col, ok := def.Column("websites")
	require.True(t, ok)
	assert.Equal(t, ",", col.ListSeparator)

	assert.Equal(t, []string{"product_listing"}, reg.Names())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "grids: [\n"},
		{"missing query", "grids:\n  - name: a\n"},
		{"duplicate grid", "grids:\n  - name: a\n    query: q\n  - name: a\n    query: q\n"},
		{"duplicate column", "grids:\n  - name: a\n    query: q\n    columns:\n      - name: x\n      - name: x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDefinitions(t, t.TempDir(), tt.content)
			_, err := LoadRegistry(path, nil)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinitions(t, dir, definitionsYAML)

	reg, err := LoadRegistry(path, nil)
	require.NoError(t, err)

	writeDefinitions(t, dir, "grids: [\n")
	assert.Error(t, reg.Reload())

	_, ok := reg.Get("product_listing")
	assert.True(t, ok)
}

func TestRegistry_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinitions(t, dir, definitionsYAML)

	reg, err := LoadRegistry(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx, 10*time.Millisecond) }()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeDefinitions(t, dir, definitionsYAML+`
  - name: customer_listing
    query: SELECT entity_id FROM customer_entity
`)

	assert.Eventually(t, func() bool {
		_, ok := reg.Get("customer_listing")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(Definition{Name: "g", Query: "SELECT 1"})
	require.NoError(t, err)
	_, ok := reg.Get("g")
	assert.True(t, ok)
	assert.NoError(t, reg.Reload())

	_, err = NewRegistry(Definition{Name: "g"})
	assert.Error(t, err)
}

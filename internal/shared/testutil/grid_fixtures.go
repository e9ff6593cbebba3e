package testutil

import (
	"context"
	"fmt"
	"sync"

	"gridexport/internal/grid"
	"gridexport/internal/source"
)

// ProductGridName is the name of the fixture grid
const ProductGridName = "product_listing"

func position(p int) *int {
	return &p
}

// ProductGrid returns a small product grid definition. The ids and actions
// columns are declared but never exported.
func ProductGrid() grid.Definition {
	column := func(name, label string, t grid.DataType, pos int) grid.ColumnDefinition {
		return grid.ColumnDefinition{ColumnDescriptor: grid.ColumnDescriptor{
			Name: name, Label: label, DataType: t, Visible: true, Position: position(pos),
		}}
	}

	websites := column("websites", "Websites", grid.TypeText, 5)
	websites.ListSeparator = ","

	return grid.Definition{
		Name:          ProductGridName,
		Query:         "SELECT entity_id, sku, name, attribute_set_id, websites, status FROM catalog_product_entity",
		IDColumn:      "entity_id",
		SearchColumns: []string{"sku", "name"},
		Columns: []grid.ColumnDefinition{
			column(grid.ColumnIDs, "IDs", grid.TypeNumber, 0),
			column("entity_id", "ID", grid.TypeNumber, 1),
			column("sku", "SKU", grid.TypeText, 2),
			column("name", "Name", grid.TypeText, 3),
			column("attribute_set_id", "Attribute Set", grid.TypeSelect, 4),
			websites,
			column("status", "Status", grid.TypeSelect, 6),
			column(grid.ColumnActions, "Action", grid.TypeActions, 7),
		},
	}
}

// ProductRecords returns n product records. Every record belongs to
// attribute set 4 and website 1.
func ProductRecords(n int) []grid.Record {
	records := make([]grid.Record, 0, n)
	for i := 1; i <= n; i++ {
		rec := grid.NewMapRecord()
		rec.Values["entity_id"] = int64(i)
		rec.Values["sku"] = fmt.Sprintf("SKU-%03d", i)
		rec.Values["name"] = fmt.Sprintf("Product %d", i)
		rec.Values["attribute_set_id"] = int64(4)
		rec.Values["websites"] = []any{int64(1)}
		rec.Values["status"] = int64(1)
		rec.Labels["status"] = "Enabled"
		records = append(records, rec)
	}
	return records
}

// PageFetcher serves records in pages. When failOnPage is positive, fetching
// that page returns err instead.
func PageFetcher(records []grid.Record, failOnPage int, err error) source.PageFetcherFunc {
	return func(ctx context.Context, page, size int) ([]grid.Record, error) {
		if failOnPage > 0 && page == failOnPage {
			return nil, err
		}
		start := (page - 1) * size
		if start >= len(records) {
			return nil, nil
		}
		end := min(start+size, len(records))
		return records[start:end], nil
	}
}

// StaticColumns is an in-memory grid.ColumnConfigStore
type StaticColumns struct {
	mu      sync.Mutex
	Grids   map[string][]grid.ColumnDescriptor
	Err     error
	Queries int
}

// NewStaticColumns returns a store serving the declared columns of defs
func NewStaticColumns(defs ...grid.Definition) *StaticColumns {
	s := &StaticColumns{Grids: make(map[string][]grid.ColumnDescriptor, len(defs))}
	for i := range defs {
		s.Grids[defs[i].Name] = defs[i].Descriptors()
	}
	return s
}

// Columns implements grid.ColumnConfigStore
func (s *StaticColumns) Columns(_ context.Context, gridName string) ([]grid.ColumnDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Queries++
	if s.Err != nil {
		return nil, s.Err
	}
	cols, ok := s.Grids[gridName]
	if !ok {
		return nil, fmt.Errorf("no column configuration for grid %q", gridName)
	}
	return cols, nil
}

// NameLookup resolves ids to names from a map and counts the calls that
// reached it. It serves as both grid.AttributeSetLookup and
// grid.WebsiteLookup.
type NameLookup struct {
	mu    sync.Mutex
	Names map[string]string
	Calls int
}

// NewNameLookup creates a lookup over names, keyed by the printed id
func NewNameLookup(names map[string]string) *NameLookup {
	return &NameLookup{Names: names}
}

// AttributeSetName implements grid.AttributeSetLookup
func (l *NameLookup) AttributeSetName(_ context.Context, id any) (string, error) {
	return l.name(id)
}

// WebsiteName implements grid.WebsiteLookup
func (l *NameLookup) WebsiteName(_ context.Context, id any) (string, error) {
	return l.name(id)
}

func (l *NameLookup) name(id any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Calls++
	name, ok := l.Names[fmt.Sprint(id)]
	if !ok {
		return "", grid.ErrNotFound
	}
	return name, nil
}

// CallCount returns how many lookups reached the map
func (l *NameLookup) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Calls
}

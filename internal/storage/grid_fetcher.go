package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gridexport/internal/grid"
)

// LabelSuffix marks result columns holding the display label of another column:
// "color__label" is the label of "color".
const LabelSuffix = "__label"

// Filter is the grid selection state of one export request
type Filter struct {
	Selected []string
	Excluded []string
	Search   string
}

// GridFetcher pages through a grid query. It implements source.PageFetcher.
type GridFetcher struct {
	db     *DB
	def    *grid.Definition
	filter Filter
}

// NewGridFetcher creates a fetcher for one grid and filter
func NewGridFetcher(db *DB, def *grid.Definition, filter Filter) *GridFetcher {
	return &GridFetcher{db: db, def: def, filter: filter}
}

// FetchPage loads page (1 based) of size rows
func (f *GridFetcher) FetchPage(ctx context.Context, page, size int) ([]grid.Record, error) {
	if page < 1 || size < 1 {
		return nil, fmt.Errorf("invalid page %d of size %d", page, size)
	}

	query, args := f.pageQuery(page, size)
	rows, err := f.db.QueryContext(ctx, f.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query grid %s: %w", f.def.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	records := make([]grid.Record, 0, size)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, f.toRecord(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	return records, nil
}

func (f *GridFetcher) pageQuery(page, size int) (string, []any) {
	var (
		where []string
		args  []any
	)

	if f.def.IDColumn != "" {
		id := f.db.quoteIdent(f.def.IDColumn)
		if len(f.filter.Selected) > 0 {
			where = append(where, id+" IN ("+placeholders(len(f.filter.Selected))+")")
			args = appendIDs(args, f.filter.Selected)
		}
		if len(f.filter.Excluded) > 0 {
			where = append(where, id+" NOT IN ("+placeholders(len(f.filter.Excluded))+")")
			args = appendIDs(args, f.filter.Excluded)
		}
	}

	if term := strings.TrimSpace(f.filter.Search); term != "" && len(f.def.SearchColumns) > 0 {
		like := make([]string, 0, len(f.def.SearchColumns))
		for _, col := range f.def.SearchColumns {
			like = append(like, f.db.quoteIdent(col)+" LIKE ?")
			args = append(args, "%"+term+"%")
		}
		where = append(where, "("+strings.Join(like, " OR ")+")")
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM (")
	b.WriteString(strings.TrimRight(strings.TrimSpace(f.def.Query), ";"))
	b.WriteString(") grid_rows")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.def.IDColumn != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(f.db.quoteIdent(f.def.IDColumn))
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, size, (page-1)*size)

	return b.String(), args
}

func (f *GridFetcher) toRecord(cols []string, values []any) *grid.MapRecord {
	rec := grid.NewMapRecord()
	for i, name := range cols {
		v := formatValue(values[i])
		if field, ok := strings.CutSuffix(name, LabelSuffix); ok {
			if v != nil {
				rec.Labels[field] = f.splitList(field, v)
			}
			continue
		}
		rec.Values[name] = f.splitList(name, v)
	}
	return rec
}

// splitList turns a stored delimited string into a list for columns that
// declare a list separator.
func (f *GridFetcher) splitList(field string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	col, ok := f.def.Column(field)
	if !ok || col.ListSeparator == "" {
		return v
	}
	if s == "" {
		return []any{}
	}

	parts := strings.Split(s, col.ListSeparator)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// appendIDs binds numeric ids as integers so they compare with integer keys
func appendIDs(args []any, ids []string) []any {
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			args = append(args, n)
			continue
		}
		args = append(args, id)
	}
	return args
}

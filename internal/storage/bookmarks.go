package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"gridexport/internal/grid"
)

// CurrentBookmark is the identifier of the view the admin is looking at
const CurrentBookmark = "current"

// DefinitionSource returns grid definitions by name, such as *grid.Registry
type DefinitionSource interface {
	Get(name string) (*grid.Definition, bool)
}

// BookmarkStore derives column configuration from the saved "current"
// bookmark of a grid, falling back to the declared defaults of the grid
// definition when no bookmark exists. It implements grid.ColumnConfigStore.
type BookmarkStore struct {
	db   *DB
	defs DefinitionSource
}

// NewBookmarkStore creates the store
func NewBookmarkStore(db *DB, defs DefinitionSource) *BookmarkStore {
	return &BookmarkStore{db: db, defs: defs}
}

type bookmarkConfig struct {
	Current struct {
		Columns   json.RawMessage `json:"columns"`
		Positions map[string]any  `json:"positions"`
	} `json:"current"`
}

type bookmarkColumn struct {
	Visible *bool `json:"visible"`
}

// Columns implements grid.ColumnConfigStore. Columns come in the order the
// bookmark lists them, followed by declared columns the bookmark omits.
func (s *BookmarkStore) Columns(ctx context.Context, gridName string) ([]grid.ColumnDescriptor, error) {
	def, ok := s.defs.Get(gridName)
	if !ok {
		return nil, fmt.Errorf("grid %q: %w", gridName, grid.ErrNotFound)
	}

	raw, err := s.load(ctx, gridName)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return def.Descriptors(), nil
	}

	return mergeBookmark(def, raw)
}

func (s *BookmarkStore) load(ctx context.Context, namespace string) ([]byte, error) {
	var config sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.rebind(
		"SELECT config FROM ui_bookmark WHERE namespace = ? AND identifier = ? ORDER BY bookmark_id DESC LIMIT 1"),
		namespace, CurrentBookmark).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bookmark %s: %w", namespace, err)
	}
	if !config.Valid || config.String == "" {
		return nil, nil
	}
	return []byte(config.String), nil
}

func mergeBookmark(def *grid.Definition, raw []byte) ([]grid.ColumnDescriptor, error) {
	var cfg bookmarkConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode bookmark %s: %w", def.Name, err)
	}

	order, saved, err := decodeColumns(cfg.Current.Columns)
	if err != nil {
		return nil, fmt.Errorf("decode bookmark %s columns: %w", def.Name, err)
	}

	out := make([]grid.ColumnDescriptor, 0, len(def.Columns))
	seen := make(map[string]bool, len(def.Columns))
	apply := func(d grid.ColumnDescriptor) {
		if col, ok := saved[d.Name]; ok && col.Visible != nil {
			d.Visible = *col.Visible
		}
		if p, ok := cfg.Current.Positions[d.Name]; ok {
			if pos, err := cast.ToIntE(p); err == nil {
				d.Position = &pos
			}
		}
		out = append(out, d)
		seen[d.Name] = true
	}

	// Columns the bookmark knows but the definition does not have no label
	// and could never be exported; they are dropped here.
	for _, name := range order {
		if col, ok := def.Column(name); ok {
			apply(col.ColumnDescriptor)
		}
	}
	for _, col := range def.Columns {
		if !seen[col.Name] {
			apply(col.ColumnDescriptor)
		}
	}

	return out, nil
}

// decodeColumns decodes the bookmark "columns" object keeping key order
func decodeColumns(raw json.RawMessage) ([]string, map[string]bookmarkColumn, error) {
	cols := make(map[string]bookmarkColumn)
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, cols, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected column name, got %v", tok)
		}

		var col bookmarkColumn
		if err := dec.Decode(&col); err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", name, err)
		}
		if _, dup := cols[name]; !dup {
			order = append(order, name)
		}
		cols[name] = col
	}

	return order, cols, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"gridexport/internal/grid"
)

// AttributeSetRepository resolves attribute set names from eav_attribute_set
type AttributeSetRepository struct {
	db *DB
}

// NewAttributeSetRepository creates the repository
func NewAttributeSetRepository(db *DB) *AttributeSetRepository {
	return &AttributeSetRepository{db: db}
}

// AttributeSetName implements grid.AttributeSetLookup
func (r *AttributeSetRepository) AttributeSetName(ctx context.Context, id any) (string, error) {
	return lookupName(ctx, r.db,
		"SELECT attribute_set_name FROM eav_attribute_set WHERE attribute_set_id = ?", id)
}

// WebsiteRepository resolves website names from store_website
type WebsiteRepository struct {
	db *DB
}

// NewWebsiteRepository creates the repository
func NewWebsiteRepository(db *DB) *WebsiteRepository {
	return &WebsiteRepository{db: db}
}

// WebsiteName implements grid.WebsiteLookup
func (r *WebsiteRepository) WebsiteName(ctx context.Context, id any) (string, error) {
	return lookupName(ctx, r.db,
		"SELECT name FROM store_website WHERE website_id = ?", id)
}

func lookupName(ctx context.Context, db *DB, query string, id any) (string, error) {
	key, err := cast.ToInt64E(id)
	if err != nil {
		return "", fmt.Errorf("invalid id %v: %w", id, grid.ErrNotFound)
	}

	var name sql.NullString
	err = db.QueryRowContext(ctx, db.rebind(query), key).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", grid.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %d: %w", key, err)
	}
	return name.String, nil
}

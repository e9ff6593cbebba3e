package grid

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups when the id is unknown
var ErrNotFound = errors.New("not found")

// AttributeSetLookup resolves attribute set ids to display names
type AttributeSetLookup interface {
	AttributeSetName(ctx context.Context, id any) (string, error)
}

// WebsiteLookup resolves website ids to display names
type WebsiteLookup interface {
	WebsiteName(ctx context.Context, id any) (string, error)
}

// ColumnConfigStore returns the saved column configuration of a grid, in the
// order the configuration lists the columns.
type ColumnConfigStore interface {
	Columns(ctx context.Context, gridName string) ([]ColumnDescriptor, error)
}

package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"gridexport/internal/grid"
	"gridexport/internal/infrastructure"
)

type lookupResult struct {
	name string
	err  error
}

// lookupCache memoizes name lookups for the lifetime of one export session.
// Failed lookups are remembered as well. Not safe for concurrent use.
type lookupCache struct {
	attributeSets grid.AttributeSetLookup
	websites      grid.WebsiteLookup
	metrics       *infrastructure.BusinessMetrics

	sets  map[string]lookupResult
	sites map[string]lookupResult
	hits  int
}

func newLookupCache(attributeSets grid.AttributeSetLookup, websites grid.WebsiteLookup, metrics *infrastructure.BusinessMetrics) *lookupCache {
	return &lookupCache{
		attributeSets: attributeSets,
		websites:      websites,
		metrics:       metrics,
		sets:          make(map[string]lookupResult),
		sites:         make(map[string]lookupResult),
	}
}

// AttributeSetName implements grid.AttributeSetLookup
func (c *lookupCache) AttributeSetName(ctx context.Context, id any) (string, error) {
	if c.attributeSets == nil {
		return "", grid.ErrNotFound
	}
	return c.lookup(ctx, c.sets, "attribute_set", id, c.attributeSets.AttributeSetName)
}

// WebsiteName implements grid.WebsiteLookup
func (c *lookupCache) WebsiteName(ctx context.Context, id any) (string, error) {
	if c.websites == nil {
		return "", grid.ErrNotFound
	}
	return c.lookup(ctx, c.sites, "website", id, c.websites.WebsiteName)
}

func (c *lookupCache) lookup(ctx context.Context, memo map[string]lookupResult, kind string, id any,
	resolve func(context.Context, any) (string, error)) (string, error) {
	key := fmt.Sprint(id)
	if res, ok := memo[key]; ok {
		c.hits++
		if c.metrics != nil {
			c.metrics.ExportLookupsCached.Add(ctx, 1, metric.WithAttributes(attribute.String("lookup", kind)))
		}
		return res.name, res.err
	}

	name, err := resolve(ctx, id)
	// A cancelled request says nothing about the id
	if ctx.Err() == nil {
		memo[key] = lookupResult{name: name, err: err}
	}
	return name, err
}

// Hits returns how many lookups were answered from the cache
func (c *lookupCache) Hits() int {
	return c.hits
}

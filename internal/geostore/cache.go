package geostore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// CachedStore memoises block group polygons by GEOID in a bounded LRU cache.
// Rendering several maps touches the same polygons repeatedly.
type CachedStore struct {
	Store
	polygons *lru.Cache[string, orb.Geometry]
}

// NewCachedStore wraps store with a cache of size entries.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, orb.Geometry](size)
	if err != nil {
		return nil, eris.Wrap(err, "geostore: create cache")
	}
	return &CachedStore{Store: store, polygons: cache}, nil
}

// BlockGroupPolygon returns the cached polygon or fetches and caches it.
// Failed lookups are not cached.
func (c *CachedStore) BlockGroupPolygon(ctx context.Context, geoid string) (orb.Geometry, error) {
	if g, ok := c.polygons.Get(geoid); ok {
		return g, nil
	}
	g, err := c.Store.BlockGroupPolygon(ctx, geoid)
	if err != nil {
		return nil, err
	}
	c.polygons.Add(geoid, g)
	return g, nil
}

// Len returns the number of cached polygons.
func (c *CachedStore) Len() int { return c.polygons.Len() }

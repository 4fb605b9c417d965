package geostore

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shelter-access/internal/tiger"
)

// fakeStore serves polygons from maps and counts lookups.
type fakeStore struct {
	blockgroups map[string]orb.Geometry
	zones       map[string]orb.Geometry
	calls       map[string]int
}

func (f *fakeStore) BlockGroupPolygon(_ context.Context, geoid string) (orb.Geometry, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[geoid]++
	g, ok := f.blockgroups[geoid]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) ZonePolygon(_ context.Context, zone string) (orb.Geometry, error) {
	g, ok := f.zones[zone]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) BlockGroupsIntersecting(context.Context, orb.Geometry) ([]BlockGroup, error) {
	return nil, nil
}

func (f *fakeStore) PutBlockGroups(context.Context, []tiger.Feature) (int64, error) { return 0, nil }
func (f *fakeStore) PutZones(context.Context, []tiger.Feature) (int64, error)       { return 0, nil }
func (f *fakeStore) Close(context.Context) error                                   { return nil }

func TestCachedStore(t *testing.T) {
	inner := &fakeStore{blockgroups: map[string]orb.Geometry{
		"a": orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		"b": orb.Polygon{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}},
	}}
	cached, err := NewCachedStore(inner, 1)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.BlockGroupPolygon(ctx, "a")
	require.NoError(t, err)
	_, err = cached.BlockGroupPolygon(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls["a"])

	_, err = cached.BlockGroupPolygon(ctx, "b")
	require.NoError(t, err)
	_, err = cached.BlockGroupPolygon(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls["a"], "evicted by the size bound")
	assert.Equal(t, 1, cached.Len())

	_, err = cached.BlockGroupPolygon(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.BlockGroupPolygon(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, inner.calls["missing"], "failures are not cached")
}

package simulate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shelter-access/internal/geostore"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/routes"
	"github.com/sells-group/shelter-access/internal/shelters"
)

type fakeFinder struct {
	bgs  []geostore.BlockGroup
	area orb.Geometry
}

func (f *fakeFinder) BlockGroupsIntersecting(_ context.Context, area orb.Geometry) ([]geostore.BlockGroup, error) {
	f.area = area
	return f.bgs, nil
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func TestInstructions(t *testing.T) {
	finder := &fakeFinder{bgs: []geostore.BlockGroup{
		{GEOID: "250259813002", Polygon: square(0, 0, 2)},
		{GEOID: "250250001001", Polygon: square(4, 4, 2)},
	}}
	union := orb.MultiPolygon{square(0, 0, 10)}
	overrides := map[string]orb.Point{"250259813002": {-71.01728, 42.36671}}

	ins, err := Instructions(context.Background(), finder, union, overrides)
	require.NoError(t, err)
	assert.Equal(t, union, finder.area)
	require.Len(t, ins, 2)

	assert.Equal(t, "250250001001", ins[0].GEOID)
	assert.InDelta(t, 5, ins[0].Origin[0], 1e-9)
	assert.Equal(t, ins[0].Origin, ins[0].Centroid)

	assert.Equal(t, orb.Point{-71.01728, 42.36671}, ins[1].Origin, "override wins")
	assert.InDelta(t, 1, ins[1].Centroid[0], 1e-9)
}

func TestInstructions_EmptyUnion(t *testing.T) {
	_, err := Instructions(context.Background(), &fakeFinder{}, nil, nil)
	assert.Error(t, err)
}

// distanceRouter returns a duration from the x distance, and unreachable for
// transit to shelters east of x=1.
type distanceRouter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (d *distanceRouter) Route(_ context.Context, from, to orb.Point, mode model.Mode) (model.RouteResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.fail {
		return model.RouteResult{}, errors.New("otp down")
	}
	if mode == model.ModeTransit && to[0] > 1 {
		return model.Unreachable(), nil
	}
	dist := to[0] - from[0]
	if dist < 0 {
		dist = -dist
	}
	return model.Reached(dist * 100), nil
}

type memSink struct {
	mu   sync.Mutex
	recs []model.RouteRecord
}

func (m *memSink) Insert(_ context.Context, rec model.RouteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

var shelterList = []shelters.Shelter{
	{ObjectID: 7, Location: orb.Point{0.5, 0}},
	{ObjectID: 8, Location: orb.Point{3, 0}},
}

func TestRun(t *testing.T) {
	ins := []Instruction{
		{GEOID: "a", Origin: orb.Point{0, 0}, Centroid: orb.Point{0, 0}},
		{GEOID: "b", Origin: orb.Point{2, 0}, Centroid: orb.Point{2, 1}},
		{GEOID: "c", Origin: orb.Point{4, 0}, Centroid: orb.Point{4, 0}},
	}
	r := &distanceRouter{}
	sink := &memSink{}

	n, err := Run(context.Background(), ins, shelterList, r, sink, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3*2*3, r.calls)
	require.Len(t, sink.recs, 3)

	var b model.RouteRecord
	for _, rec := range sink.recs {
		if rec.BlockGroup.GEOID == "b" {
			b = rec
		}
	}
	require.Len(t, b.Shelters, 2)
	assert.Equal(t, 7, b.Shelters[0].ObjectID, "catalogue order kept")
	assert.Equal(t, orb.Point{2, 1}, *b.BlockGroup.Centroid)
	assert.InDelta(t, 150, b.Shelters[0].Routes[model.ModeWalk].Route.Duration, 1e-9)
	assert.False(t, b.Shelters[1].Routes[model.ModeTransit].Reachable)
}

func TestRun_RouterErrorStops(t *testing.T) {
	ins := []Instruction{{GEOID: "a"}, {GEOID: "b"}}
	n, err := Run(context.Background(), ins, shelterList, &distanceRouter{fail: true}, &memSink{}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "otp down")
	assert.Zero(t, n)
}

func TestLineSink_FeedsNormalizer(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLineSink(&buf)
	_, err := Run(context.Background(), []Instruction{{GEOID: "a", Origin: orb.Point{0, 0}}},
		shelterList, &distanceRouter{}, sink, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	cat, err := shelters.NewCatalogue(shelterList)
	require.NoError(t, err)
	var out bytes.Buffer
	n, err := routes.Normalize(context.Background(), &buf, &out, model.ModeTransit, cat)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), `"transit":false`)
}

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shelter-access/internal/analysis"
	"github.com/sells-group/shelter-access/internal/boundary"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/population"
	"github.com/sells-group/shelter-access/internal/store"
)

type noZones struct{}

func (noZones) Union(context.Context, []string) (orb.MultiPolygon, error) { return nil, nil }

func shelterRoute(id int, pt orb.Point, walk, drive model.RouteResult) model.ShelterRoute {
	p := pt
	return model.ShelterRoute{
		ObjectID:    id,
		Coordinates: &p,
		Routes:      model.Routes{model.ModeWalk: walk, model.ModeDrive: drive},
	}
}

// testRecords serves one block group whose shelters are already in order
// for both modes.
func testRecords(context.Context, model.Mode) ([]model.RouteRecord, error) {
	return []model.RouteRecord{{
		BlockGroup: model.BlockGroupRef{GEOID: "250250001001", Origin: orb.Point{0.5, 0.5}},
		Shelters: []model.ShelterRoute{
			shelterRoute(1, orb.Point{0.2, 0.2}, model.Reached(120), model.Reached(60)),
			shelterRoute(2, orb.Point{0.8, 0.8}, model.Reached(300), model.Reached(90)),
		},
	}}, nil
}

func testAnalyzer(t *testing.T) *analysis.Analyzer {
	t.Helper()
	area, err := boundary.New(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}})
	require.NoError(t, err)
	pops := population.New("15000US", map[string]int64{"15000US250250001001": 100})
	return analysis.New(noZones{}, pops, area, nil)
}

func TestAnalyzeAll_ModeMajor(t *testing.T) {
	results, err := analyzeAll(context.Background(), testAnalyzer(t), testRecords,
		[]model.Mode{model.ModeWalk, model.ModeDrive}, []int{1, 2}, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, model.ModeWalk, results[0].Mode)
	assert.Equal(t, 1, results[0].NClosest)
	assert.Equal(t, model.ModeWalk, results[1].Mode)
	assert.Equal(t, 2, results[1].NClosest)
	assert.Equal(t, model.ModeDrive, results[2].Mode)

	require.NotNil(t, results[1].BlockGroups[0].AvgTravel)
	assert.InDelta(t, 3.5, *results[1].BlockGroups[0].AvgTravel, 1e-9)
	require.NotNil(t, results[3].BlockGroups[0].AvgTravel)
	assert.InDelta(t, 1.25, *results[3].BlockGroups[0].AvgTravel, 1e-9)
}

func TestAnalyzeAll_LoadError(t *testing.T) {
	load := func(context.Context, model.Mode) ([]model.RouteRecord, error) {
		return nil, eris.New("routes: open analysis/routes_walk_sorted.json")
	}
	_, err := analyzeAll(context.Background(), testAnalyzer(t), load, []model.Mode{model.ModeWalk}, []int{1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routes_walk_sorted.json")
}

func TestAnalyzeAll_AnalyzeError(t *testing.T) {
	_, err := analyzeAll(context.Background(), testAnalyzer(t), testRecords, []model.Mode{model.ModeWalk}, []int{0}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyze walk n=0")
}

func TestStatsFileName(t *testing.T) {
	assert.Equal(t, "shelter_stats_transit_3.json", statsFileName(model.ModeTransit, 3))
}

func TestWriteStats(t *testing.T) {
	results, err := analyzeAll(context.Background(), testAnalyzer(t), testRecords, []model.Mode{model.ModeWalk}, []int{1}, nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "analysis")
	path, err := writeStats(dir, results[0])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shelter_stats_walk_1.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "walk", doc["mode"])
	assert.Contains(t, doc, "blockgroups")
	assert.Contains(t, doc, "shelter_pops")
}

func TestSharedScale(t *testing.T) {
	results, err := analyzeAll(context.Background(), testAnalyzer(t), testRecords,
		[]model.Mode{model.ModeWalk, model.ModeDrive}, []int{1, 2}, nil)
	require.NoError(t, err)

	assert.Nil(t, sharedScale(results, false))

	s := sharedScale(results, true)
	require.NotNil(t, s)
	assert.InDelta(t, 1.0, s.Min, 1e-9)
	assert.InDelta(t, 3.5, s.Max, 1e-9)

	assert.Nil(t, sharedScale(nil, true))
}

func TestRecordResults(t *testing.T) {
	ctx := context.Background()
	st, err := initRunStore(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	results, err := analyzeAll(ctx, testAnalyzer(t), testRecords, []model.Mode{model.ModeWalk}, []int{1, 2}, nil)
	require.NoError(t, err)

	ids, err := recordResults(ctx, st, results)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	runs, err := st.ListRuns(ctx, store.RunFilter{Mode: model.ModeWalk})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	totals, err := st.ShelterTotals(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, []store.ShelterTotal{{ObjectID: 1, Population: 100}, {ObjectID: 2, Population: 100}}, totals)
}

func TestOriginOverrides(t *testing.T) {
	got, err := originOverrides(map[string][]float64{"250259813002": {-71.01728, 42.36671}})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-71.01728, 42.36671}, got["250259813002"])

	_, err = originOverrides(map[string][]float64{"250259813002": {-71.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs [lng, lat]")
}

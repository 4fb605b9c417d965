package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/fetcher"
	"github.com/sells-group/shelter-access/internal/model"
)

func testConfig() config.RenderConfig {
	return config.RenderConfig{
		DPI:               40,
		WidthInches:       6.4,
		HeightInches:      4.8,
		BoundingBox:       []float64{-71.2, 42.21, -70.9, 42.42},
		Colormap:          []string{"#ffffcc", "#fd8d3c", "#800026"},
		BoundaryColor:     "#777777",
		InaccessibleColor: "#bbbbbb",
		PolygonOpacity:    0.8,
		ShelterColor:      "#4daf4a",
		ExcludedColor:     "#377eb8",
		UnusedColor:       "#2f6b2d",
		ShelterMinSize:    2,
		ShelterMaxSize:    5,
		LinkColor:         "#294040",
		LinkWidth:         0.25,
		LinkOpacity:       0.2,
		TitleFontSize:     8,
		TileZoom:          11,
	}
}

type polygonMap map[string]orb.Geometry

func (m polygonMap) BlockGroupPolygon(_ context.Context, geoid string) (orb.Geometry, error) {
	g, ok := m[geoid]
	if !ok {
		return nil, errors.New("no polygon")
	}
	return g, nil
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func testResult() *model.Result {
	res := model.NewResult(model.ModeWalk, 3, []string{"ZONE A"})
	five := 5.0
	a := orb.Point{-71.06, 42.35}
	b := orb.Point{-71.03, 42.33}
	res.BlockGroups = []model.BlockGroupStat{
		{GEOID: "1", Population: 100, AvgTravel: &five, Shelters: []int{1}},
		{GEOID: "2", Population: 50},
	}
	res.Shelters = []model.ShelterRoute{{ObjectID: 1, Coordinates: &a}, {ObjectID: 2, Coordinates: &b}}
	res.ShelterPops[1] = 100
	res.Excluded[2] = struct{}{}
	res.Lines = []model.Segment{{a, {-71.05, 42.3}}}
	return res
}

func testPolygons() polygonMap {
	return polygonMap{"1": square(-71.1, 42.3, 0.02), "2": square(-71.0, 42.3, 0.02)}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "walk_3_closest.png", FileName(model.ModeWalk, 3))
	assert.Equal(t, "transit_1_closest.png", FileName(model.ModeTransit, 1))
}

func TestTitle(t *testing.T) {
	res := model.NewResult(model.ModeDrive, 1, nil)
	assert.Equal(t, "Relationships between block groups and the closest shelter; mode of transit = drive", Title(res))
	res.NClosest = 3
	assert.Equal(t, "Relationships between block groups and the 3 closest shelters; mode of transit = drive", Title(res))
}

func TestSubtitle(t *testing.T) {
	assert.Empty(t, Subtitle(model.NewResult(model.ModeWalk, 1, nil)))
	res := model.NewResult(model.ModeWalk, 1, []string{"ZONE A", "ZONE B"})
	assert.Equal(t, "Shelters in Zone A, Zone B excluded", Subtitle(res))
}

func TestGradient(t *testing.T) {
	g, err := ParseGradient([]string{"#000000", "#ffffff"})
	require.NoError(t, err)

	assert.Equal(t, "#000000", g.At(-1).Hex())
	assert.Equal(t, "#ffffff", g.At(2).Hex())
	mid := g.At(0.5)
	assert.InDelta(t, 0.5, mid.R, 1e-9)

	_, err = ParseGradient([]string{"#000000"})
	assert.Error(t, err)
	_, err = ParseGradient([]string{"#000000", "nope"})
	assert.Error(t, err)
}

func TestScale_Normalize(t *testing.T) {
	s := Scale{Min: 2, Max: 12}
	assert.Equal(t, 0.0, s.Normalize(2))
	assert.Equal(t, 0.5, s.Normalize(7))
	assert.Equal(t, 1.0, s.Normalize(20))
	assert.Equal(t, 0.5, Scale{Min: 4, Max: 4}.Normalize(4), "degenerate range clamps to midpoint")
}

func TestTicks(t *testing.T) {
	assert.Equal(t, []float64{0, 2.5, 5, 7.5, 10}, ticks(Scale{Min: 0, Max: 10}, 5))
	assert.Equal(t, []float64{3}, ticks(Scale{Min: 3, Max: 3}, 5))
	assert.Equal(t, "12", tickLabel(12.3, 20))
	assert.Equal(t, "1.2", tickLabel(1.23, 5))
}

func TestLegendEntries(t *testing.T) {
	r, err := New(testConfig(), testPolygons(), nil, nil)
	require.NoError(t, err)

	res := testResult()
	entries := legendEntries(res, r.colors)
	require.Len(t, entries, 3)
	assert.Equal(t, "Unsafe shelter", entries[0].label)

	res.Excluded = map[int]struct{}{}
	entries = legendEntries(res, r.colors)
	require.Len(t, entries, 2)
	assert.Equal(t, "Shelter", entries[0].label)
	assert.True(t, entries[1].patch)
}

func TestMarkerSize(t *testing.T) {
	r, err := New(testConfig(), testPolygons(), nil, nil)
	require.NoError(t, err)

	s := Scale{Min: 100, Max: 300}
	assert.Equal(t, 2.0, r.markerSize(100, s))
	assert.Equal(t, 5.0, r.markerSize(300, s))
	assert.Equal(t, 3.5, r.markerSize(100, Scale{Min: 100, Max: 100}))
}

func TestNew_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.BoundingBox = []float64{1, 2}
	_, err := New(cfg, testPolygons(), nil, nil)
	assert.ErrorContains(t, err, "bounding box")

	cfg = testConfig()
	cfg.ShelterColor = "green"
	_, err = New(cfg, testPolygons(), nil, nil)
	assert.ErrorContains(t, err, `colour "green"`)
}

func TestRender_WritesPNG(t *testing.T) {
	r, err := New(testConfig(), testPolygons(), orb.MultiPolygon{square(-71.15, 42.25, 0.2)}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "maps", FileName(model.ModeWalk, 3))
	require.NoError(t, r.Render(context.Background(), testResult(), path, &Scale{Min: 1, Max: 9}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(256, 192), img.Bounds().Size())

	_, statErr := os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestRender_PolygonError(t *testing.T) {
	r, err := New(testConfig(), polygonMap{}, nil, nil)
	require.NoError(t, err)

	err = r.Render(context.Background(), testResult(), filepath.Join(t.TempDir(), "x.png"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polygon for 1")
}

func tilePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 220, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTileSource_CachesTiles(t *testing.T) {
	data := tilePNG(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second, BaseBackoff: time.Millisecond})
	src := NewTileSource(f, srv.URL+"/{z}/{x}/{y}.png", t.TempDir())

	tile := maptile.New(619, 757, 11)
	assert.Equal(t, srv.URL+"/11/619/757.png", src.URL(tile))

	img, err := src.Tile(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = src.Tile(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second read served from cache")
}

func TestRender_WithTiles(t *testing.T) {
	data := tilePNG(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second, BaseBackoff: time.Millisecond})
	tiles := NewTileSource(f, srv.URL+"/{z}/{x}/{y}.png", t.TempDir())
	r, err := New(testConfig(), testPolygons(), nil, tiles)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tiled.png")
	require.NoError(t, r.Render(context.Background(), testResult(), path, nil), "a missing tile is skipped")
	assert.Greater(t, calls.Load(), int32(1))
}

func TestTilesCovering(t *testing.T) {
	bound := orb.Bound{Min: orb.Point{-71.2, 42.21}, Max: orb.Point{-70.9, 42.42}}
	tiles := tilesCovering(bound, 11)
	require.NotEmpty(t, tiles)
	for _, tile := range tiles {
		assert.True(t, tile.Bound().Intersects(bound))
	}
}

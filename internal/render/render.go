// Package render draws analysis results as choropleth maps: block groups
// coloured by average travel time, shelters sized by population served.
package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/font/opentype"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/model"
)

const (
	boundaryWidth    = 0.5 // points
	legendMarkerSize = 6   // points
)

// Polygons resolves a block group GEOID to its boundary.
type Polygons interface {
	BlockGroupPolygon(ctx context.Context, geoid string) (orb.Geometry, error)
}

// Tiles supplies base-map tiles.
type Tiles interface {
	Tile(ctx context.Context, t maptile.Tile) (image.Image, error)
}

// FileName returns the map file name for a result, e.g. walk_3_closest.png.
func FileName(mode model.Mode, n int) string {
	return fmt.Sprintf("%s_%d_closest.png", mode, n)
}

type palette struct {
	boundary     colorful.Color
	inaccessible colorful.Color
	shelter      colorful.Color
	excluded     colorful.Color
	unused       colorful.Color
	link         colorful.Color
}

// Renderer draws maps with a fixed appearance.
type Renderer struct {
	cfg      config.RenderConfig
	polygons Polygons
	boundary orb.MultiPolygon
	tiles    Tiles
	gradient Gradient
	colors   palette
	bound    orb.Bound
	font     *opentype.Font
}

// New validates the appearance settings. boundary is the municipal outline;
// tiles may be nil to draw without a base map.
func New(cfg config.RenderConfig, polygons Polygons, boundary orb.MultiPolygon, tiles Tiles) (*Renderer, error) {
	if len(cfg.BoundingBox) != 4 {
		return nil, eris.Errorf("render: bounding box needs 4 values, got %d", len(cfg.BoundingBox))
	}
	if cfg.DPI <= 0 || cfg.WidthInches <= 0 || cfg.HeightInches <= 0 {
		return nil, eris.New("render: dpi and figure size must be positive")
	}
	gradient, err := ParseGradient(cfg.Colormap)
	if err != nil {
		return nil, err
	}

	var colors palette
	for _, c := range []struct {
		dst *colorful.Color
		hex string
	}{
		{&colors.boundary, cfg.BoundaryColor},
		{&colors.inaccessible, cfg.InaccessibleColor},
		{&colors.shelter, cfg.ShelterColor},
		{&colors.excluded, cfg.ExcludedColor},
		{&colors.unused, cfg.UnusedColor},
		{&colors.link, cfg.LinkColor},
	} {
		parsed, err := colorful.Hex(c.hex)
		if err != nil {
			return nil, eris.Wrapf(err, "render: colour %q", c.hex)
		}
		*c.dst = parsed
	}

	face, err := loadFont()
	if err != nil {
		return nil, err
	}

	return &Renderer{
		cfg:      cfg,
		polygons: polygons,
		boundary: boundary,
		tiles:    tiles,
		gradient: gradient,
		colors:   colors,
		bound: orb.Bound{
			Min: orb.Point{cfg.BoundingBox[0], cfg.BoundingBox[1]},
			Max: orb.Point{cfg.BoundingBox[2], cfg.BoundingBox[3]},
		},
		font: face,
	}, nil
}

// pt converts typographic points to pixels.
func (r *Renderer) pt(v float64) float64 {
	return v * float64(r.cfg.DPI) / 72
}

func (r *Renderer) inches(v float64) float64 {
	return v * float64(r.cfg.DPI)
}

// viewport maps lon/lat to pixels through Web Mercator.
type viewport struct {
	x, y, w, h float64
	min        orb.Point
	maxY       float64
	scale      float64
}

func (v viewport) point(p orb.Point) (float64, float64) {
	m := project.Point(p, project.WGS84.ToMercator)
	return v.x + (m[0]-v.min[0])*v.scale, v.y + (v.maxY-m[1])*v.scale
}

// layout fits the bounding box into the area left of the colour bar and
// below the title, keeping the projection's aspect ratio.
func (r *Renderer) layout(width, height float64) viewport {
	lo := project.Point(r.bound.Min, project.WGS84.ToMercator)
	hi := project.Point(r.bound.Max, project.WGS84.ToMercator)

	top := r.pt(r.cfg.TitleFontSize) * 4
	left, right, bottom := r.inches(0.3), r.inches(1.2), r.inches(0.3)
	availW := width - left - right
	availH := height - top - bottom

	scale := min(availW/(hi[0]-lo[0]), availH/(hi[1]-lo[1]))
	w := (hi[0] - lo[0]) * scale
	h := (hi[1] - lo[1]) * scale
	return viewport{
		x:     left + (availW-w)/2,
		y:     top + (availH-h)/2,
		w:     w,
		h:     h,
		min:   lo,
		maxY:  hi[1],
		scale: scale,
	}
}

// Render draws res and writes a PNG to path. A nil scale is computed from
// res alone; pass a shared scale to compare several maps. Shelters listed
// after a block group already had N counted are never tested against the
// zones, so one inside a zone can be drawn as unused rather than unsafe.
func (r *Renderer) Render(ctx context.Context, res *model.Result, path string, scale *Scale) error {
	log := zap.L().With(zap.String("component", "render"), zap.String("path", path))

	s := Scale{}
	if scale != nil {
		s = *scale
	} else if lo, hi, ok := res.TravelRange(); ok {
		s = Scale{Min: lo, Max: hi}
	}

	width := r.inches(r.cfg.WidthInches)
	height := r.inches(r.cfg.HeightInches)
	dc := gg.NewContext(int(math.Round(width)), int(math.Round(height)))
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	v := r.layout(width, height)
	dc.DrawRectangle(v.x, v.y, v.w, v.h)
	dc.Clip()

	if r.tiles != nil {
		r.drawTiles(ctx, dc, v)
	}
	if err := r.drawBlockGroups(ctx, dc, v, res, s); err != nil {
		return err
	}
	r.drawBoundary(dc, v)
	r.drawLinks(dc, v, res)
	r.drawShelters(dc, v, res)
	dc.ResetClip()

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(r.pt(0.8))
	dc.DrawRectangle(v.x, v.y, v.w, v.h)
	dc.Stroke()

	if err := r.drawTitle(dc, v, res); err != nil {
		return err
	}
	if err := r.drawColorbar(dc, v, s); err != nil {
		return err
	}
	if err := r.drawLegend(dc, v, legendEntries(res, r.colors)); err != nil {
		return err
	}

	if err := writePNG(dc, path); err != nil {
		return err
	}
	log.Info("map rendered",
		zap.String("mode", res.Mode.String()),
		zap.Int("n_closest", res.NClosest),
		zap.Float64("scale_min", s.Min),
		zap.Float64("scale_max", s.Max),
	)
	return nil
}

func (r *Renderer) drawTiles(ctx context.Context, dc *gg.Context, v viewport) {
	z := maptile.Zoom(r.cfg.TileZoom)
	for _, t := range tilesCovering(r.bound, z) {
		img, err := r.tiles.Tile(ctx, t)
		if err != nil {
			zap.L().Warn("skipping base map tile",
				zap.String("component", "render"),
				zap.Uint32("x", t.X), zap.Uint32("y", t.Y),
				zap.Error(err),
			)
			continue
		}
		b := t.Bound()
		x0, y0 := v.point(orb.Point{b.Min[0], b.Max[1]})
		x1, y1 := v.point(orb.Point{b.Max[0], b.Min[1]})
		size := img.Bounds().Size()

		dc.Push()
		dc.Translate(x0, y0)
		dc.Scale((x1-x0)/float64(size.X), (y1-y0)/float64(size.Y))
		dc.DrawImage(img, 0, 0)
		dc.Pop()
	}
}

func (r *Renderer) drawBlockGroups(ctx context.Context, dc *gg.Context, v viewport, res *model.Result, s Scale) error {
	dc.SetFillRuleEvenOdd()
	for _, bg := range res.BlockGroups {
		g, err := r.polygons.BlockGroupPolygon(ctx, bg.GEOID)
		if err != nil {
			return eris.Wrapf(err, "render: polygon for %s", bg.GEOID)
		}
		c := r.colors.inaccessible
		if bg.AvgTravel != nil {
			c = r.gradient.At(s.Normalize(*bg.AvgTravel))
		}
		tracePolygons(dc, v, g)
		dc.SetRGBA(c.R, c.G, c.B, r.cfg.PolygonOpacity)
		dc.SetLineWidth(r.pt(0.3))
		dc.FillPreserve()
		dc.Stroke()
	}
	return nil
}

func (r *Renderer) drawBoundary(dc *gg.Context, v viewport) {
	if len(r.boundary) == 0 {
		return
	}
	tracePolygons(dc, v, r.boundary)
	c := r.colors.boundary
	dc.SetRGBA(c.R, c.G, c.B, r.cfg.PolygonOpacity)
	dc.SetLineWidth(r.pt(boundaryWidth))
	dc.Stroke()
}

func (r *Renderer) drawLinks(dc *gg.Context, v viewport, res *model.Result) {
	c := r.colors.link
	dc.SetRGBA(c.R, c.G, c.B, r.cfg.LinkOpacity)
	dc.SetLineWidth(r.pt(r.cfg.LinkWidth))
	for _, seg := range res.Lines {
		x0, y0 := v.point(seg[0])
		x1, y1 := v.point(seg[1])
		dc.DrawLine(x0, y0, x1, y1)
		dc.Stroke()
	}
}

// markerSize returns the marker diameter in points for a served population.
func (r *Renderer) markerSize(pop int64, popScale Scale) float64 {
	t := popScale.Normalize(float64(pop))
	return r.cfg.ShelterMinSize + t*(r.cfg.ShelterMaxSize-r.cfg.ShelterMinSize)
}

func (r *Renderer) drawShelters(dc *gg.Context, v viewport, res *model.Result) {
	lo, hi, _ := res.PopulationRange()
	popScale := Scale{Min: float64(lo), Max: float64(hi)}

	for _, s := range res.Shelters {
		if s.Coordinates == nil {
			continue
		}
		size, c := r.cfg.ShelterMinSize, r.colors.unused
		if pop, ok := res.ShelterPops[s.ObjectID]; ok {
			size, c = r.markerSize(pop, popScale), r.colors.shelter
		} else if res.IsExcluded(s.ObjectID) {
			c = r.colors.excluded
		}
		x, y := v.point(*s.Coordinates)
		dc.DrawCircle(x, y, r.pt(size)/2)
		dc.SetColor(c)
		dc.Fill()
	}
}

func tracePolygons(dc *gg.Context, v viewport, g orb.Geometry) {
	var polys orb.MultiPolygon
	switch t := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{t}
	case orb.MultiPolygon:
		polys = t
	default:
		return
	}
	for _, poly := range polys {
		for _, ring := range poly {
			if len(ring) == 0 {
				continue
			}
			dc.NewSubPath()
			for i, p := range ring {
				x, y := v.point(p)
				if i == 0 {
					dc.MoveTo(x, y)
				} else {
					dc.LineTo(x, y)
				}
			}
			dc.ClosePath()
		}
	}
}

func writePNG(dc *gg.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "render: create output directory")
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "render: create image")
	}
	err = dc.EncodePNG(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return eris.Wrap(err, "render: encode png")
	}
	return eris.Wrap(os.Rename(tmp, path), "render: move image")
}

// Package zones builds the union of evacuation zones used to exclude unsafe
// shelters.
package zones

import (
	"context"
	"math"

	cgeom "github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBuffer is the outward offset, in degrees, applied to each zone so
// that adjacent zones sharing an edge overlap before the union.
const DefaultBuffer = 1e-9

// Source fetches a zone polygon by name.
type Source interface {
	ZonePolygon(ctx context.Context, zone string) (orb.Geometry, error)
}

// Builder unions named zones from a Source.
type Builder struct {
	source Source
	buffer float64
}

// NewBuilder returns a builder. A non-positive buffer disables buffering.
func NewBuilder(source Source, buffer float64) *Builder {
	return &Builder{source: source, buffer: buffer}
}

// Union fetches every named zone once, buffers it and folds the results into
// one geometry. No names means no union: the result is nil.
func (b *Builder) Union(ctx context.Context, names []string) (orb.MultiPolygon, error) {
	if len(names) == 0 {
		return nil, nil
	}
	log := zap.L().With(zap.String("component", "zones"))

	var acc cgeom.Polygonal
	for _, name := range names {
		g, err := b.source.ZonePolygon(ctx, name)
		if err != nil {
			return nil, eris.Wrapf(err, "zones: fetch %q", name)
		}
		poly, err := toPolygon(g, b.buffer)
		if err != nil {
			return nil, eris.Wrapf(err, "zones: zone %q", name)
		}
		if acc == nil {
			acc = poly
			continue
		}
		acc = acc.Union(poly)
	}

	union := fromPolygon(acc)
	log.Info("zone union built",
		zap.Strings("zones", names),
		zap.Int("polygons", len(union)),
		zap.Float64("area", planar.Area(union)),
	)
	return union, nil
}

// Contains reports whether p lies inside the union. A nil union contains
// nothing.
func Contains(union orb.MultiPolygon, p orb.Point) bool {
	if len(union) == 0 || !union.Bound().Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(union, p)
}

func toPolygon(g orb.Geometry, buffer float64) (cgeom.Polygon, error) {
	var polys orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		polys = v
	default:
		return nil, eris.Errorf("zones: expected a polygon, got %T", g)
	}

	var out cgeom.Polygon
	for _, poly := range polys {
		for i, ring := range poly {
			path := openPath(ring)
			if len(path) < 3 {
				continue
			}
			// Exteriors run counter-clockwise and holes clockwise, so the
			// right-hand normal of every edge points away from the area.
			ccw := signedArea(path) > 0
			if (i == 0) != ccw {
				reverse(path)
			}
			if buffer > 0 {
				path = offset(path, buffer)
			}
			out = append(out, path)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("zones: empty polygon")
	}
	return out, nil
}

func openPath(ring orb.Ring) cgeom.Path {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	path := make(cgeom.Path, n)
	for i := 0; i < n; i++ {
		path[i] = cgeom.Point{X: ring[i][0], Y: ring[i][1]}
	}
	return path
}

func signedArea(path cgeom.Path) float64 {
	var a float64
	for i := range path {
		j := (i + 1) % len(path)
		a += path[i].X*path[j].Y - path[j].X*path[i].Y
	}
	return a / 2
}

func reverse(path cgeom.Path) {
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
}

// offset moves every vertex by d along the mitred right-hand normal of its
// two edges. Sharp spikes are capped at four times d.
func offset(path cgeom.Path, d float64) cgeom.Path {
	n := len(path)
	out := make(cgeom.Path, n)
	for i := range path {
		prev := path[(i+n-1)%n]
		cur := path[i]
		next := path[(i+1)%n]

		n1x, n1y, ok1 := normal(prev, cur)
		n2x, n2y, ok2 := normal(cur, next)
		switch {
		case !ok1 && !ok2:
			out[i] = cur
			continue
		case !ok1:
			n1x, n1y = n2x, n2y
		case !ok2:
			n2x, n2y = n1x, n1y
		}

		mx, my := n1x+n2x, n1y+n2y
		ml := math.Hypot(mx, my)
		if ml == 0 {
			out[i] = cgeom.Point{X: cur.X + n1x*d, Y: cur.Y + n1y*d}
			continue
		}
		mx, my = mx/ml, my/ml
		scale := d / (mx*n1x + my*n1y)
		if scale > 4*d || scale < 0 {
			scale = 4 * d
		}
		out[i] = cgeom.Point{X: cur.X + mx*scale, Y: cur.Y + my*scale}
	}
	return out
}

func normal(a, b cgeom.Point) (float64, float64, bool) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, 0, false
	}
	return dy / l, -dx / l, true
}

// fromPolygon turns the flat path list produced by the clipper into nested
// orb polygons. A path nested inside an odd number of others is a hole of
// its innermost container.
func fromPolygon(p cgeom.Polygonal) orb.MultiPolygon {
	if p == nil {
		return nil
	}
	var rings []orb.Ring
	for _, poly := range p.Polygons() {
		for _, path := range poly {
			if len(path) < 3 {
				continue
			}
			ring := make(orb.Ring, 0, len(path)+1)
			for _, pt := range path {
				ring = append(ring, orb.Point{pt.X, pt.Y})
			}
			if ring[0] != ring[len(ring)-1] {
				ring = append(ring, ring[0])
			}
			rings = append(rings, ring)
		}
	}

	depth := make([]int, len(rings))
	parent := make([]int, len(rings))
	for i, r := range rings {
		parent[i] = -1
		probe := r[0]
		for j, other := range rings {
			if i == j || !other.Bound().Contains(probe) || !planar.RingContains(other, probe) {
				continue
			}
			depth[i]++
			if parent[i] < 0 || planar.Area(other) < planar.Area(rings[parent[i]]) {
				parent[i] = j
			}
		}
	}

	var out orb.MultiPolygon
	index := make(map[int]int)
	for i, r := range rings {
		if depth[i]%2 == 0 {
			if r.Orientation() != orb.CCW {
				r.Reverse()
			}
			index[i] = len(out)
			out = append(out, orb.Polygon{r})
		}
	}
	for i, r := range rings {
		if depth[i]%2 == 1 {
			k, ok := index[parent[i]]
			if !ok {
				continue
			}
			if r.Orientation() != orb.CW {
				r.Reverse()
			}
			out[k] = append(out[k], r)
		}
	}
	return out
}

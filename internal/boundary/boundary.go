// Package boundary loads the municipal boundary polygon used to decide which
// block groups belong to the study area.
package boundary

import (
	"encoding/json"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// Boundary is a polygonal study area.
type Boundary struct {
	shape orb.MultiPolygon
	bound orb.Bound
}

// New wraps a polygon or multipolygon.
func New(g orb.Geometry) (*Boundary, error) {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	case nil:
		return nil, eris.New("boundary: no geometry")
	default:
		return nil, eris.Errorf("boundary: expected a polygon, got %s", g.GeoJSONType())
	}
	if len(mp) == 0 {
		return nil, eris.New("boundary: empty multipolygon")
	}
	return &Boundary{shape: mp, bound: mp.Bound()}, nil
}

// Parse reads a GeoJSON geometry, Feature, or FeatureCollection. The union of
// all polygons found is the boundary.
func Parse(data []byte) (*Boundary, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "boundary: decode geojson")
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: decode feature collection")
		}
		var mp orb.MultiPolygon
		for _, f := range fc.Features {
			switch g := f.Geometry.(type) {
			case orb.Polygon:
				mp = append(mp, g)
			case orb.MultiPolygon:
				mp = append(mp, g...)
			}
		}
		return New(mp)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: decode feature")
		}
		return New(f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: decode geometry")
		}
		return New(g.Geometry())
	}
}

// Load reads a boundary GeoJSON file.
func Load(path string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: parse %s", path)
	}
	return b, nil
}

// Contains reports whether the point lies inside the boundary.
func (b *Boundary) Contains(p orb.Point) bool {
	if !b.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(b.shape, p)
}

// Shape returns the boundary polygons.
func (b *Boundary) Shape() orb.MultiPolygon { return b.shape }

// Bound returns the bounding box.
func (b *Boundary) Bound() orb.Bound { return b.bound }

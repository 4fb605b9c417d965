// Package geostore looks up block-group and evacuation-zone polygons in a
// document store (MongoDB) or a spatial database (PostGIS), and loads them
// from shapefiles.
package geostore

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shelter-access/internal/tiger"
)

// ErrNotFound is returned when no geometry matches the key.
var ErrNotFound = eris.New("geostore: not found")

// BlockGroup is a block group polygon keyed by GEOID.
type BlockGroup struct {
	GEOID   string
	Polygon orb.Geometry
}

// Store reads and writes geometries. Lookups return a Polygon or
// MultiPolygon.
type Store interface {
	BlockGroupPolygon(ctx context.Context, geoid string) (orb.Geometry, error)
	ZonePolygon(ctx context.Context, zone string) (orb.Geometry, error)
	BlockGroupsIntersecting(ctx context.Context, area orb.Geometry) ([]BlockGroup, error)
	PutBlockGroups(ctx context.Context, features []tiger.Feature) (int64, error)
	PutZones(ctx context.Context, features []tiger.Feature) (int64, error)
	Close(ctx context.Context) error
}

// parseGeometry decodes a GeoJSON geometry. When it is a GeometryCollection
// the element at index is used.
func parseGeometry(data []byte, index int) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, eris.Wrap(err, "geostore: decode geometry")
	}
	return polygonal(g.Geometry(), index)
}

func polygonal(g orb.Geometry, index int) (orb.Geometry, error) {
	if col, ok := g.(orb.Collection); ok {
		if index < 0 || index >= len(col) {
			return nil, eris.Errorf("geostore: geometry collection has %d members, want index %d", len(col), index)
		}
		g = col[index]
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, nil
	case nil:
		return nil, eris.New("geostore: empty geometry")
	default:
		return nil, eris.Errorf("geostore: expected a polygon, got %s", g.GeoJSONType())
	}
}

// encodeGeometry marshals an orb geometry as GeoJSON.
func encodeGeometry(g orb.Geometry) ([]byte, error) {
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "geostore: encode geometry")
	}
	return data, nil
}

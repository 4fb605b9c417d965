package tiger

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// EncodeWKB encodes a geometry as little-endian EWKB for COPY into PostGIS.
func EncodeWKB(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, eris.New("tiger: encode WKB: nil geometry")
	}
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode WKB")
	}
	return data, nil
}

// EncodeGeoJSON encodes a geometry as a GeoJSON geometry object for the
// document store.
func EncodeGeoJSON(g geom.T) ([]byte, error) {
	if g == nil {
		return nil, eris.New("tiger: encode GeoJSON: nil geometry")
	}
	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode GeoJSON")
	}
	return data, nil
}

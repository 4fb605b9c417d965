// Package tiger reads Census TIGER/Line and evacuation-zone shapefiles and
// encodes their polygons for the geometry stores.
package tiger

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Feature is one shapefile record: its key attribute, any extra attributes
// that were asked for, and its polygon geometry.
type Feature struct {
	Key      string
	Attrs    map[string]string
	Geometry *geom.MultiPolygon
}

// ReadShapefile reads every polygon record of the shapefile at path. keyField
// names the attribute used as the record key (GEOID for block groups, ZONE for
// evacuation zones); attrs lists extra attributes to keep. Records with an
// empty key or no usable polygon are skipped.
func ReadShapefile(path, keyField string, attrs ...string) ([]Feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	index := fieldIndex(reader.Fields())
	keyIdx, ok := index[strings.ToLower(keyField)]
	if !ok {
		return nil, eris.Errorf("tiger: field %s not found in %s", keyField, path)
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		key := attribute(reader, keyIdx)
		mp := multiPolygon(shape)
		if key == "" || mp == nil {
			skipped++
			continue
		}

		f := Feature{Key: key, Geometry: mp}
		for _, name := range attrs {
			if idx, ok := index[strings.ToLower(name)]; ok {
				if f.Attrs == nil {
					f.Attrs = make(map[string]string, len(attrs))
				}
				f.Attrs[name] = attribute(reader, idx)
			}
		}
		features = append(features, f)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return features, nil
}

func fieldIndex(fields []shp.Field) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[strings.ToLower(strings.TrimRight(f.String(), "\x00"))] = i
	}
	return idx
}

func attribute(r *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// multiPolygon converts a shapefile polygon into a MultiPolygon with SRID
// 4326. Shapefile outer rings wind clockwise and holes counter-clockwise; each
// hole is attached to the outer ring preceding it.
func multiPolygon(shape shp.Shape) *geom.MultiPolygon {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for _, pt := range p.Points[start:end] {
			flat = append(flat, pt.X, pt.Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || current == nil {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("tiger: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}

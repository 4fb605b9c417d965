// Package shelters loads the emergency shelter catalogue and converts the
// ArcGIS FeatureServer export into GeoJSON.
package shelters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/fetcher"
)

// ErrUnknownShelter is returned when an object ID is not in the catalogue.
var ErrUnknownShelter = eris.New("shelters: unknown object id")

// Shelter is one catalogue entry.
type Shelter struct {
	ObjectID   int
	Location   orb.Point
	Properties map[string]any
}

// Catalogue indexes shelters by object ID and keeps file order.
type Catalogue struct {
	shelters []Shelter
	byID     map[int]int
}

// NewCatalogue builds a catalogue. Duplicate object IDs are an error.
func NewCatalogue(list []Shelter) (*Catalogue, error) {
	c := &Catalogue{shelters: list, byID: make(map[int]int, len(list))}
	for i, s := range list {
		if _, dup := c.byID[s.ObjectID]; dup {
			return nil, eris.Errorf("shelters: duplicate OBJECTID %d", s.ObjectID)
		}
		c.byID[s.ObjectID] = i
	}
	return c, nil
}

// Lookup returns the shelter with the given object ID.
func (c *Catalogue) Lookup(objectID int) (Shelter, error) {
	i, ok := c.byID[objectID]
	if !ok {
		return Shelter{}, eris.Wrapf(ErrUnknownShelter, "shelters: OBJECTID %d", objectID)
	}
	return c.shelters[i], nil
}

// All returns the shelters in catalogue order.
func (c *Catalogue) All() []Shelter { return c.shelters }

// Len returns the number of shelters.
func (c *Catalogue) Len() int { return len(c.shelters) }

// Parse reads a GeoJSON FeatureCollection of point features carrying an
// integer OBJECTID property.
func Parse(data []byte) (*Catalogue, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "shelters: decode feature collection")
	}

	list := make([]Shelter, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, err := objectID(f.Properties["OBJECTID"])
		if err != nil {
			return nil, eris.Wrapf(err, "shelters: feature %d", i)
		}
		if f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
			return nil, eris.Errorf("shelters: feature %d (OBJECTID %d) is not a point", i, id)
		}
		list = append(list, Shelter{
			ObjectID:   id,
			Location:   orb.Point{f.Geometry.Point[0], f.Geometry.Point[1]},
			Properties: f.Properties,
		})
	}
	return NewCatalogue(list)
}

// Load reads the catalogue from a GeoJSON file.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shelters: read %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "shelters: parse %s", path)
	}
	return c, nil
}

// Ensure loads the catalogue from path, first downloading it from the
// FeatureServer URL and converting it to GeoJSON when the file is absent.
func Ensure(ctx context.Context, f fetcher.Fetcher, url, path string) (*Catalogue, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	log := zap.L().With(zap.String("component", "shelters"), zap.String("path", path))
	log.Info("shelter catalogue missing, downloading")

	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "shelters: download catalogue")
	}
	defer body.Close() //nolint:errcheck

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "shelters: read catalogue")
	}

	fc, err := FromArcGIS(raw)
	if err != nil {
		return nil, err
	}
	if err := writeCollection(fc, path); err != nil {
		return nil, err
	}
	log.Info("shelter catalogue cached", zap.Int("features", len(fc.Features)))
	return Load(path)
}

type arcgisResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FromArcGIS converts a FeatureServer query response into a GeoJSON
// FeatureCollection. The Longitude and Latitude attributes become the point
// geometry and are removed from the properties.
func FromArcGIS(data []byte) (*geojson.FeatureCollection, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var resp arcgisResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, eris.Wrap(err, "shelters: decode arcgis response")
	}
	if resp.Error != nil {
		return nil, eris.Errorf("shelters: arcgis error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	fc := geojson.NewFeatureCollection()
	for i, feat := range resp.Features {
		props := feat.Attributes
		lng, err := coordinate(props, "Longitude")
		if err != nil {
			return nil, eris.Wrapf(err, "shelters: feature %d", i)
		}
		lat, err := coordinate(props, "Latitude")
		if err != nil {
			return nil, eris.Wrapf(err, "shelters: feature %d", i)
		}
		delete(props, "Longitude")
		delete(props, "Latitude")

		for k, v := range props {
			if n, ok := v.(json.Number); ok {
				props[k] = numberValue(n)
			}
		}

		f := geojson.NewPointFeature([]float64{lng, lat})
		f.Properties = props
		fc.AddFeature(f)
	}
	return fc, nil
}

func writeCollection(fc *geojson.FeatureCollection, path string) error {
	data, err := json.MarshalIndent(fc, "", "    ")
	if err != nil {
		return eris.Wrap(err, "shelters: encode catalogue")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "shelters: create directory")
	}
	return eris.Wrap(os.WriteFile(path, data, 0o644), "shelters: write catalogue")
}

func coordinate(props map[string]any, key string) (float64, error) {
	switch v := props[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, eris.Wrapf(err, "shelters: %s", key)
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, eris.Wrapf(err, "shelters: %s", key)
	case nil:
		return 0, eris.Errorf("shelters: missing %s attribute", key)
	default:
		return 0, eris.Errorf("shelters: %s has unexpected type %T", key, v)
	}
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

func objectID(v any) (int, error) {
	switch id := v.(type) {
	case float64:
		if id != float64(int(id)) {
			return 0, eris.Errorf("shelters: OBJECTID %v is not an integer", id)
		}
		return int(id), nil
	case int:
		return id, nil
	case int64:
		return int(id), nil
	case nil:
		return 0, eris.New("shelters: missing OBJECTID")
	default:
		return 0, eris.Errorf("shelters: OBJECTID has unexpected type %T", v)
	}
}

// IDs returns all object IDs in ascending order.
func (c *Catalogue) IDs() []int {
	ids := make([]int, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

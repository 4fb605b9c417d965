package geostore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/tiger"
)

// ConnectMongo connects to MongoDB and pings the primary.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	timeout := time.Duration(cfg.ConnectTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetRetryReads(true)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, eris.Wrap(err, "geostore: connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "geostore: ping mongo")
	}
	return client, nil
}

// MongoStore reads GeoJSON documents of the form
// {properties: {GEOID|ZONE: ...}, geometry: ...}. The geometry may be a
// GeometryCollection, in which case the member at GeometryIndex is the
// polygon.
type MongoStore struct {
	client      *mongo.Client
	blockgroups *mongo.Collection
	zones       *mongo.Collection
	index       int
}

// NewMongoStore wraps a connected client. The caller disconnects it.
func NewMongoStore(client *mongo.Client, cfg config.MongoConfig) *MongoStore {
	return &MongoStore{
		client:      client,
		blockgroups: client.Database(cfg.BlockGroupDB).Collection(cfg.BlockGroupCollection),
		zones:       client.Database(cfg.ZoneDB).Collection(cfg.ZoneCollection),
		index:       cfg.GeometryIndex,
	}
}

type geoDoc struct {
	Properties bson.M   `bson:"properties"`
	Geometry   bson.Raw `bson:"geometry"`
}

func (s *MongoStore) geometryPath() string {
	if s.index < 0 {
		return "geometry"
	}
	return "geometry.geometries." + strconv.Itoa(s.index)
}

func (s *MongoStore) findPolygon(ctx context.Context, coll *mongo.Collection, field, key string) (orb.Geometry, error) {
	var doc geoDoc
	err := coll.FindOne(ctx, bson.M{"properties." + field: key},
		options.FindOne().SetProjection(bson.M{"geometry": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, eris.Wrapf(ErrNotFound, "geostore: %s %s=%s", coll.Name(), field, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geostore: find %s %s", field, key)
	}
	return s.decodeGeometry(doc.Geometry)
}

func (s *MongoStore) decodeGeometry(raw bson.Raw) (orb.Geometry, error) {
	if len(raw) == 0 {
		return nil, eris.New("geostore: document has no geometry")
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, eris.Wrap(err, "geostore: convert geometry")
	}
	index := s.index
	if index < 0 {
		index = 0
	}
	return parseGeometry(data, index)
}

// BlockGroupPolygon fetches a block group polygon by GEOID.
func (s *MongoStore) BlockGroupPolygon(ctx context.Context, geoid string) (orb.Geometry, error) {
	return s.findPolygon(ctx, s.blockgroups, "GEOID", geoid)
}

// ZonePolygon fetches an evacuation zone polygon by name.
func (s *MongoStore) ZonePolygon(ctx context.Context, zone string) (orb.Geometry, error) {
	return s.findPolygon(ctx, s.zones, "ZONE", zone)
}

// BlockGroupsIntersecting returns the block groups whose polygon intersects
// area, using a $geoIntersects query.
func (s *MongoStore) BlockGroupsIntersecting(ctx context.Context, area orb.Geometry) ([]BlockGroup, error) {
	geometry, err := toBSON(area)
	if err != nil {
		return nil, err
	}

	cursor, err := s.blockgroups.Find(ctx, bson.M{
		s.geometryPath(): bson.M{"$geoIntersects": bson.M{"$geometry": geometry}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "geostore: intersect query")
	}
	defer cursor.Close(ctx) //nolint:errcheck

	var out []BlockGroup
	for cursor.Next(ctx) {
		var doc geoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "geostore: decode block group")
		}
		geoid, _ := doc.Properties["GEOID"].(string)
		if geoid == "" {
			return nil, eris.New("geostore: block group without properties.GEOID")
		}
		poly, err := s.decodeGeometry(doc.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geostore: block group %s", geoid)
		}
		out = append(out, BlockGroup{GEOID: geoid, Polygon: poly})
	}
	if err := cursor.Err(); err != nil {
		return nil, eris.Wrap(err, "geostore: iterate block groups")
	}
	return out, nil
}

// PutBlockGroups upserts block group polygons keyed by GEOID. INTPTLON and
// INTPTLAT attributes, when present, become the collection's point member.
func (s *MongoStore) PutBlockGroups(ctx context.Context, features []tiger.Feature) (int64, error) {
	return s.put(ctx, s.blockgroups, "GEOID", features)
}

// PutZones upserts evacuation zone polygons keyed by ZONE.
func (s *MongoStore) PutZones(ctx context.Context, features []tiger.Feature) (int64, error) {
	return s.put(ctx, s.zones, "ZONE", features)
}

func (s *MongoStore) put(ctx context.Context, coll *mongo.Collection, field string, features []tiger.Feature) (int64, error) {
	if len(features) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(features))
	for _, f := range features {
		geometry, err := s.documentGeometry(f)
		if err != nil {
			return 0, eris.Wrapf(err, "geostore: %s %s", field, f.Key)
		}
		props := bson.M{field: f.Key}
		for k, v := range f.Attrs {
			props[k] = v
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"properties." + field: f.Key}).
			SetReplacement(bson.M{"type": "Feature", "properties": props, "geometry": geometry}).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, eris.Wrapf(err, "geostore: bulk write %s", coll.Name())
	}
	zap.L().Info("geometries stored",
		zap.String("component", "geostore.mongo"),
		zap.String("collection", coll.Name()),
		zap.Int64("matched", res.MatchedCount),
		zap.Int64("upserted", res.UpsertedCount),
	)
	return res.MatchedCount + res.UpsertedCount, nil
}

// documentGeometry builds the stored geometry: a GeometryCollection with the
// polygon at the configured index, or the bare polygon when the store reads
// plain geometries.
func (s *MongoStore) documentGeometry(f tiger.Feature) (any, error) {
	data, err := tiger.EncodeGeoJSON(f.Geometry)
	if err != nil {
		return nil, err
	}
	var polygon bson.D
	if err := bson.UnmarshalExtJSON(data, false, &polygon); err != nil {
		return nil, eris.Wrap(err, "geostore: convert geometry")
	}
	if s.index < 0 {
		return polygon, nil
	}

	point := internalPoint(f)
	members := make(bson.A, s.index+1)
	for i := range members {
		members[i] = bson.D{{Key: "type", Value: "Point"}, {Key: "coordinates", Value: bson.A{point[0], point[1]}}}
	}
	members[s.index] = polygon
	return bson.D{{Key: "type", Value: "GeometryCollection"}, {Key: "geometries", Value: members}}, nil
}

func internalPoint(f tiger.Feature) orb.Point {
	lon, errLon := strconv.ParseFloat(f.Attrs["INTPTLON"], 64)
	lat, errLat := strconv.ParseFloat(f.Attrs["INTPTLAT"], 64)
	if errLon == nil && errLat == nil {
		return orb.Point{lon, lat}
	}
	var mp orb.MultiPolygon
	for i := 0; i < f.Geometry.NumPolygons(); i++ {
		var poly orb.Polygon
		p := f.Geometry.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			var ring orb.Ring
			for _, c := range p.LinearRing(j).Coords() {
				ring = append(ring, orb.Point{c.X(), c.Y()})
			}
			poly = append(poly, ring)
		}
		mp = append(mp, poly)
	}
	c, _ := planar.CentroidArea(mp)
	return c
}

// EnsureIndexes creates the key and 2dsphere indexes the lookups rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.blockgroups, []mongo.IndexModel{
			{Keys: bson.D{{Key: "properties.GEOID", Value: 1}}},
			{Keys: bson.D{{Key: s.geometryPath(), Value: "2dsphere"}}},
		}},
		{s.zones, []mongo.IndexModel{
			{Keys: bson.D{{Key: "properties.ZONE", Value: 1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return eris.Wrapf(err, "geostore: create indexes on %s", spec.coll.Name())
		}
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (s *MongoStore) Close(context.Context) error { return nil }

func toBSON(g orb.Geometry) (bson.D, error) {
	data, err := encodeGeometry(g)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, eris.Wrap(err, "geostore: convert geometry")
	}
	return doc, nil
}

package geostore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/db"
	"github.com/sells-group/shelter-access/internal/tiger"
)

const (
	blockGroupTable = "geo.shelter_blockgroups"
	zoneTable       = "geo.evac_zones"
)

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE SCHEMA IF NOT EXISTS geo`,
	`CREATE TABLE IF NOT EXISTS geo.shelter_blockgroups (
		geoid TEXT PRIMARY KEY,
		geom  geometry(MultiPolygon, 4326) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shelter_blockgroups_geom ON geo.shelter_blockgroups USING GIST (geom)`,
	`CREATE TABLE IF NOT EXISTS geo.evac_zones (
		zone TEXT PRIMARY KEY,
		geom geometry(MultiPolygon, 4326) NOT NULL
	)`,
}

// PostgresStore keeps geometries in PostGIS tables.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore wraps a pool. Close closes it.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema, tables and spatial index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "geostore: migrate")
		}
	}
	return nil
}

func (s *PostgresStore) lookup(ctx context.Context, sql, key string) (orb.Geometry, error) {
	var data string
	err := s.pool.QueryRow(ctx, sql, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "geostore: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "geostore: lookup %s", key)
	}
	return parseGeometry([]byte(data), 0)
}

// BlockGroupPolygon fetches a block group polygon by GEOID.
func (s *PostgresStore) BlockGroupPolygon(ctx context.Context, geoid string) (orb.Geometry, error) {
	return s.lookup(ctx, `SELECT ST_AsGeoJSON(geom) FROM geo.shelter_blockgroups WHERE geoid = $1`, geoid)
}

// ZonePolygon fetches an evacuation zone polygon by name.
func (s *PostgresStore) ZonePolygon(ctx context.Context, zone string) (orb.Geometry, error) {
	return s.lookup(ctx, `SELECT ST_AsGeoJSON(geom) FROM geo.evac_zones WHERE zone = $1`, zone)
}

// BlockGroupsIntersecting returns the block groups whose polygon intersects
// area, ordered by GEOID.
func (s *PostgresStore) BlockGroupsIntersecting(ctx context.Context, area orb.Geometry) ([]BlockGroup, error) {
	data, err := encodeGeometry(area)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT geoid, ST_AsGeoJSON(geom)
		FROM geo.shelter_blockgroups
		WHERE ST_Intersects(geom, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))
		ORDER BY geoid`, string(data))
	if err != nil {
		return nil, eris.Wrap(err, "geostore: intersect query")
	}
	defer rows.Close()

	var out []BlockGroup
	for rows.Next() {
		var geoid, geometry string
		if err := rows.Scan(&geoid, &geometry); err != nil {
			return nil, eris.Wrap(err, "geostore: scan block group")
		}
		poly, err := parseGeometry([]byte(geometry), 0)
		if err != nil {
			return nil, eris.Wrapf(err, "geostore: block group %s", geoid)
		}
		out = append(out, BlockGroup{GEOID: geoid, Polygon: poly})
	}
	return out, eris.Wrap(rows.Err(), "geostore: iterate block groups")
}

// PutBlockGroups upserts block group polygons keyed by GEOID.
func (s *PostgresStore) PutBlockGroups(ctx context.Context, features []tiger.Feature) (int64, error) {
	return s.put(ctx, blockGroupTable, "geoid", features)
}

// PutZones upserts evacuation zone polygons keyed by zone name.
func (s *PostgresStore) PutZones(ctx context.Context, features []tiger.Feature) (int64, error) {
	return s.put(ctx, zoneTable, "zone", features)
}

func (s *PostgresStore) put(ctx context.Context, table, key string, features []tiger.Feature) (int64, error) {
	rows := make([][]any, 0, len(features))
	for _, f := range features {
		wkb, err := tiger.EncodeWKB(f.Geometry)
		if err != nil {
			return 0, eris.Wrapf(err, "geostore: %s %s", key, f.Key)
		}
		rows = append(rows, []any{f.Key, wkb})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        table,
		Columns:      []string{key, "geom"},
		ConflictKeys: []string{key},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "geostore: load %s", table)
	}
	zap.L().Info("geometries stored",
		zap.String("component", "geostore.postgres"),
		zap.String("table", table),
		zap.Int64("rows", n),
	)
	return n, nil
}

// Close closes the pool.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

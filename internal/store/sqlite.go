package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/shelter-access/internal/model"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = eris.New("store: run not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "sqlite: create directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	params          TEXT NOT NULL,
	mode            TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	blockgroups     INTEGER NOT NULL DEFAULT 0,
	inaccessible    INTEGER NOT NULL DEFAULT 0,
	active_shelters INTEGER NOT NULL DEFAULT 0,
	excluded        INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS shelter_totals (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	objectid   INTEGER NOT NULL,
	population INTEGER NOT NULL,
	excluded   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, objectid)
);

CREATE TABLE IF NOT EXISTS blockgroup_stats (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	geoid      TEXT NOT NULL,
	population INTEGER NOT NULL,
	avg_travel REAL,
	shelters   TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_blockgroup_stats_geoid ON blockgroup_stats(run_id, geoid);

CREATE INDEX IF NOT EXISTS idx_runs_mode ON runs(mode);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params RunParams) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, params, mode, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(paramsJSON), string(params.Mode), string(RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Params:    params,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SaveResult stores shelter totals and block group averages for the run and
// marks it complete, in one transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *model.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for id, pop := range res.ShelterPops {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shelter_totals (run_id, objectid, population, excluded) VALUES (?, ?, ?, 0)`,
			runID, id, pop,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert shelter total %d", id)
		}
	}
	for _, id := range res.ExcludedShelters() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shelter_totals (run_id, objectid, population, excluded) VALUES (?, ?, 0, 1)`,
			runID, id,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert excluded shelter %d", id)
		}
	}

	var inaccessible int
	// Rerun route documents repeat a GEOID; each document keeps its own row.
	for i, bg := range res.BlockGroups {
		var avg sql.NullFloat64
		if bg.Accessible() {
			avg = sql.NullFloat64{Float64: *bg.AvgTravel, Valid: true}
		} else {
			inaccessible++
		}
		ids, err := json.Marshal(bg.Shelters)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal shelters")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blockgroup_stats (run_id, seq, geoid, population, avg_travel, shelters) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, bg.GEOID, bg.Population, avg, string(ids),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert block group %s", bg.GEOID)
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, blockgroups = ?, inaccessible = ?, active_shelters = ?, excluded = ?, updated_at = ?
		 WHERE id = ?`,
		string(RunStatusComplete), len(res.BlockGroups), inaccessible, len(res.ShelterPops), len(res.Excluded),
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err := checkRowsAffected(result, runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(filter.Mode))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// ShelterTotals returns the run's shelters, largest population first.
// Excluded shelters come last with zero population.
func (s *SQLiteStore) ShelterTotals(ctx context.Context, runID string) ([]ShelterTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT objectid, population, excluded FROM shelter_totals WHERE run_id = ?
		 ORDER BY excluded, population DESC, objectid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: shelter totals")
	}
	defer rows.Close() //nolint:errcheck

	var out []ShelterTotal
	for rows.Next() {
		var t ShelterTotal
		if err := rows.Scan(&t.ObjectID, &t.Population, &t.Excluded); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan shelter total")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: shelter totals iterate")
}

// BlockGroupStats returns the run's block group averages ordered by GEOID,
// repeated GEOIDs in the order they were saved.
func (s *SQLiteStore) BlockGroupStats(ctx context.Context, runID string) ([]model.BlockGroupStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, population, avg_travel, shelters FROM blockgroup_stats WHERE run_id = ? ORDER BY geoid, seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: block group stats")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BlockGroupStat
	for rows.Next() {
		var (
			bg  model.BlockGroupStat
			avg sql.NullFloat64
			ids string
		)
		if err := rows.Scan(&bg.GEOID, &bg.Population, &avg, &ids); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan block group")
		}
		if avg.Valid {
			v := avg.Float64
			bg.AvgTravel = &v
		}
		if err := json.Unmarshal([]byte(ids), &bg.Shelters); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal shelters")
		}
		out = append(out, bg)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: block group stats iterate")
}

// helpers

const runColumns = `id, params, status, blockgroups, inaccessible, active_shelters, excluded, created_at, updated_at`

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "store: %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var paramsJSON string

	err := row.Scan(&r.ID, &paramsJSON, &r.Status, &r.BlockGroups, &r.Inaccessible,
		&r.ActiveShelters, &r.Excluded, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	return &r, nil
}

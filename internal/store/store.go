// Package store records analysis runs and their results in SQLite so runs
// can be listed and compared later.
package store

import (
	"context"
	"time"

	"github.com/sells-group/shelter-access/internal/model"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

// Run states.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
)

// RunParams are the analysis parameters of a run.
type RunParams struct {
	Mode     model.Mode `json:"mode"`
	NClosest int        `json:"n_closest"`
	Zones    []string   `json:"zones"`
}

// Run is one recorded analysis.
type Run struct {
	ID        string    `json:"id"`
	Params    RunParams `json:"params"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Summary counts, filled in by SaveResult.
	BlockGroups    int `json:"blockgroups"`
	Inaccessible   int `json:"inaccessible"`
	ActiveShelters int `json:"active_shelters"`
	Excluded       int `json:"excluded"`
}

// ShelterTotal is the population a shelter served in a run.
type ShelterTotal struct {
	ObjectID   int   `json:"objectid"`
	Population int64 `json:"population"`
	Excluded   bool  `json:"excluded"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Mode  model.Mode `json:"mode,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// Store persists runs.
type Store interface {
	CreateRun(ctx context.Context, params RunParams) (*Run, error)
	SaveResult(ctx context.Context, runID string, res *model.Result) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ShelterTotals(ctx context.Context, runID string) ([]ShelterTotal, error)
	BlockGroupStats(ctx context.Context, runID string) ([]model.BlockGroupStat, error)

	Migrate(ctx context.Context) error
	Close() error
}

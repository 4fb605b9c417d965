package model

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
)

// BlockGroupStat is the per-block-group output of an analysis run.
type BlockGroupStat struct {
	GEOID      string `json:"geoid"`
	Population int64  `json:"population"`

	// AvgTravel is the mean travel time in minutes to the counted shelters,
	// or nil when no shelter could be counted.
	AvgTravel *float64 `json:"avg_travel"`

	// Shelters holds the object IDs counted for this block group, closest first.
	Shelters []int `json:"shelters"`
}

// Accessible reports whether at least one shelter was counted.
func (b BlockGroupStat) Accessible() bool { return b.AvgTravel != nil }

// Segment is a straight line from a shelter to a block group origin.
type Segment [2]orb.Point

// Result is the output of one analysis run for a (mode, N) pair.
type Result struct {
	Mode          Mode     `json:"mode"`
	NClosest      int      `json:"n_closest"`
	ExcludedZones []string `json:"excluded_zones"`

	// ShelterPops maps shelter object ID to total population served.
	ShelterPops map[int]int64 `json:"shelter_pops"`

	// Shelters lists every shelter record encountered, in first-seen order.
	Shelters []ShelterRoute `json:"shelters"`

	BlockGroups []BlockGroupStat `json:"blockgroups"`
	Lines       []Segment        `json:"bg_to_shelter_lines"`

	// Excluded is the set of shelter object IDs inside the exclusion zones.
	Excluded map[int]struct{} `json:"-"`
}

// NewResult returns an empty result for the run parameters.
func NewResult(mode Mode, n int, zones []string) *Result {
	return &Result{
		Mode:          mode,
		NClosest:      n,
		ExcludedZones: zones,
		ShelterPops:   make(map[int]int64),
		Excluded:      make(map[int]struct{}),
	}
}

// IsExcluded reports whether the shelter was excluded by the zone filter.
func (r *Result) IsExcluded(objectID int) bool {
	_, ok := r.Excluded[objectID]
	return ok
}

// ExcludedShelters returns the excluded object IDs in ascending order.
func (r *Result) ExcludedShelters() []int {
	ids := make([]int, 0, len(r.Excluded))
	for id := range r.Excluded {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// TravelRange returns the minimum and maximum average travel time over the
// accessible block groups. ok is false when none are accessible.
func (r *Result) TravelRange() (lo, hi float64, ok bool) {
	for _, bg := range r.BlockGroups {
		if bg.AvgTravel == nil {
			continue
		}
		v := *bg.AvgTravel
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// PopulationRange returns the minimum and maximum population served over the
// counted shelters.
func (r *Result) PopulationRange() (lo, hi int64, ok bool) {
	for _, pop := range r.ShelterPops {
		if !ok {
			lo, hi, ok = pop, pop, true
			continue
		}
		if pop < lo {
			lo = pop
		}
		if pop > hi {
			hi = pop
		}
	}
	return lo, hi, ok
}

// MarshalJSON writes the result with the excluded set as a sorted array and
// shelter totals keyed by the decimal object ID.
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	pops := make(map[string]int64, len(r.ShelterPops))
	for id, pop := range r.ShelterPops {
		pops[strconv.Itoa(id)] = pop
	}
	return json.Marshal(struct {
		*alias
		ShelterPops      map[string]int64 `json:"shelter_pops"`
		ExcludedShelters []int            `json:"excluded_shelters"`
	}{
		alias:            (*alias)(r),
		ShelterPops:      pops,
		ExcludedShelters: r.ExcludedShelters(),
	})
}

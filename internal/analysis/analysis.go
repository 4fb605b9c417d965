// Package analysis aggregates normalized route documents into per-shelter
// population totals and per-block-group average travel times.
package analysis

import (
	"context"
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/zones"
)

// Unioner builds the exclusion union for a list of zone names.
type Unioner interface {
	Union(ctx context.Context, names []string) (orb.MultiPolygon, error)
}

// Populations resolves a block group GEOID to its total population.
type Populations interface {
	Lookup(geoid string) (int64, error)
}

// Area is the study area block groups must fall inside.
type Area interface {
	Contains(p orb.Point) bool
}

// Options selects what one Analyze call computes.
type Options struct {
	Mode     model.Mode
	NClosest int

	// Zones names the exclusion zones. Empty disables the filter.
	Zones []string
}

// Analyzer holds the inputs shared by every run.
type Analyzer struct {
	zones  Unioner
	pops   Populations
	area   Area
	ignore map[string]struct{}
}

// New returns an Analyzer. Block groups in ignore are skipped.
func New(u Unioner, pops Populations, area Area, ignore []string) *Analyzer {
	set := make(map[string]struct{}, len(ignore))
	for _, g := range ignore {
		set[g] = struct{}{}
	}
	return &Analyzer{zones: u, pops: pops, area: area, ignore: set}
}

// exclusion memoises the zone test per shelter for a single run.
type exclusion struct {
	union orb.MultiPolygon
	seen  map[int]bool
}

func (e *exclusion) active() bool { return len(e.union) > 0 }

func (e *exclusion) excluded(s model.ShelterRoute) (bool, error) {
	if v, ok := e.seen[s.ObjectID]; ok {
		return v, nil
	}
	if s.Coordinates == nil {
		return false, eris.Errorf("analysis: shelter %d has no coordinates", s.ObjectID)
	}
	v := zones.Contains(e.union, *s.Coordinates)
	e.seen[s.ObjectID] = v
	return v, nil
}

// Analyze walks records, which must hold shelters sorted for opts.Mode, and
// counts up to NClosest eligible shelters per block group. Shelters beyond
// the first N are still listed in the result but never tested against the
// exclusion zones.
func (a *Analyzer) Analyze(ctx context.Context, opts Options, records []model.RouteRecord) (*model.Result, error) {
	if opts.NClosest < 1 {
		return nil, eris.Errorf("analysis: n closest must be at least 1, got %d", opts.NClosest)
	}
	log := zap.L().With(
		zap.String("component", "analysis"),
		zap.String("mode", opts.Mode.String()),
		zap.Int("n_closest", opts.NClosest),
	)

	ex := &exclusion{seen: make(map[int]bool)}
	if len(opts.Zones) > 0 {
		union, err := a.zones.Union(ctx, opts.Zones)
		if err != nil {
			return nil, eris.Wrap(err, "analysis: build exclusion union")
		}
		ex.union = union
	}

	res := model.NewResult(opts.Mode, opts.NClosest, opts.Zones)
	seen := make(map[string]struct{})

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "analysis: cancelled")
		}
		geoid := rec.BlockGroup.GEOID
		if _, skip := a.ignore[geoid]; skip {
			continue
		}
		if !a.area.Contains(rec.BlockGroup.Location()) {
			continue
		}

		pop, err := a.pops.Lookup(geoid)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: population for %s", geoid)
		}

		stat := model.BlockGroupStat{GEOID: geoid, Population: pop}
		var total float64
		for _, s := range rec.Shelters {
			// Every shelter is listed, even past the N counted ones.
			if err := addShelter(res, seen, s); err != nil {
				return nil, err
			}
			route, err := s.For(opts.Mode)
			if err != nil {
				return nil, eris.Wrapf(err, "analysis: block group %s", geoid)
			}
			if !route.Reachable || len(stat.Shelters) == opts.NClosest {
				continue
			}
			if ex.active() {
				out, err := ex.excluded(s)
				if err != nil {
					return nil, err
				}
				if out {
					res.Excluded[s.ObjectID] = struct{}{}
					continue
				}
			}
			if s.Coordinates == nil {
				return nil, eris.Errorf("analysis: shelter %d has no coordinates", s.ObjectID)
			}

			total += route.Route.Duration
			stat.Shelters = append(stat.Shelters, s.ObjectID)
			res.ShelterPops[s.ObjectID] += pop
			res.Lines = append(res.Lines, model.Segment{*s.Coordinates, rec.BlockGroup.Origin})
		}

		if len(stat.Shelters) > 0 {
			avg := total / float64(len(stat.Shelters)) / 60
			stat.AvgTravel = &avg
		}
		res.BlockGroups = append(res.BlockGroups, stat)
	}

	log.Info("analysis complete",
		zap.Int("blockgroups", len(res.BlockGroups)),
		zap.Int("shelters", len(res.Shelters)),
		zap.Int("active_shelters", len(res.ShelterPops)),
		zap.Int("excluded_shelters", len(res.Excluded)),
	)
	return res, nil
}

// addShelter appends s to the result's shelter list unless an identical
// record was already seen.
func addShelter(res *model.Result, seen map[string]struct{}, s model.ShelterRoute) error {
	key, err := json.Marshal(s)
	if err != nil {
		return eris.Wrapf(err, "analysis: encode shelter %d", s.ObjectID)
	}
	if _, ok := seen[string(key)]; ok {
		return nil
	}
	seen[string(key)] = struct{}{}
	res.Shelters = append(res.Shelters, s)
	return nil
}

// Range returns the minimum and maximum average travel time over all
// results, for a colour scale shared between maps.
func Range(results []*model.Result) (lo, hi float64, ok bool) {
	for _, r := range results {
		rlo, rhi, rok := r.TravelRange()
		if !rok {
			continue
		}
		if !ok {
			lo, hi, ok = rlo, rhi, true
			continue
		}
		lo = min(lo, rlo)
		hi = max(hi, rhi)
	}
	return lo, hi, ok
}

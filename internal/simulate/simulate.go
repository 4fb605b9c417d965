// Package simulate drives the trip planner: it picks the block groups
// touching the evacuation zones and routes each one to every shelter.
package simulate

import (
	"context"
	"encoding/json"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/shelter-access/internal/geostore"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/router"
	"github.com/sells-group/shelter-access/internal/shelters"
)

// Finder returns block groups intersecting an area.
type Finder interface {
	BlockGroupsIntersecting(ctx context.Context, area orb.Geometry) ([]geostore.BlockGroup, error)
}

// Sink stores one raw route document per block group.
type Sink interface {
	Insert(ctx context.Context, rec model.RouteRecord) error
}

// Instruction is one block group to route from.
type Instruction struct {
	GEOID    string
	Origin   orb.Point
	Centroid orb.Point
}

// Instructions selects the block groups intersecting union and picks each
// origin: the polygon centroid unless overrides names the GEOID.
func Instructions(ctx context.Context, finder Finder, union orb.MultiPolygon, overrides map[string]orb.Point) ([]Instruction, error) {
	if len(union) == 0 {
		return nil, eris.New("simulate: empty zone union")
	}
	bgs, err := finder.BlockGroupsIntersecting(ctx, union)
	if err != nil {
		return nil, eris.Wrap(err, "simulate: find block groups")
	}
	log := zap.L().With(zap.String("component", "simulate"))

	out := make([]Instruction, 0, len(bgs))
	for _, bg := range bgs {
		centroid, _ := planar.CentroidArea(bg.Polygon)
		in := Instruction{GEOID: bg.GEOID, Origin: centroid, Centroid: centroid}
		if o, ok := overrides[bg.GEOID]; ok {
			log.Info("overriding origin", zap.String("geoid", bg.GEOID), zap.Float64s("origin", o[:]))
			in.Origin = o
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GEOID < out[j].GEOID })
	return out, nil
}

// Run routes every instruction to every shelter in every mode with at most
// workers block groups in flight (one per CPU when workers <= 0), writing
// each finished document to sink. The first routing or sink error stops the
// run. It returns the number of documents written.
func Run(ctx context.Context, instructions []Instruction, list []shelters.Shelter, r router.Router, sink Sink, workers int) (int, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log := zap.L().With(zap.String("component", "simulate"), zap.Int("workers", workers))
	log.Info("routing block groups", zap.Int("blockgroups", len(instructions)), zap.Int("shelters", len(list)))

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, in := range instructions {
		g.Go(func() error {
			rec, err := route(gctx, in, list, r)
			if err != nil {
				return err
			}
			if err := sink.Insert(gctx, rec); err != nil {
				return eris.Wrapf(err, "simulate: store %s", in.GEOID)
			}
			n := written.Add(1)
			log.Debug("block group routed", zap.String("geoid", in.GEOID), zap.Int64("done", n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(written.Load()), eris.Wrap(err, "simulate: run")
	}
	log.Info("simulation complete", zap.Int64("documents", written.Load()))
	return int(written.Load()), nil
}

func route(ctx context.Context, in Instruction, list []shelters.Shelter, r router.Router) (model.RouteRecord, error) {
	centroid := in.Centroid
	rec := model.RouteRecord{
		BlockGroup: model.BlockGroupRef{GEOID: in.GEOID, Origin: in.Origin, Centroid: &centroid},
		Shelters:   make([]model.ShelterRoute, 0, len(list)),
	}
	for _, s := range list {
		sr := model.ShelterRoute{ObjectID: s.ObjectID, Routes: make(model.Routes, len(model.AllModes))}
		for _, mode := range model.AllModes {
			res, err := r.Route(ctx, in.Origin, s.Location, mode)
			if err != nil {
				return rec, eris.Wrapf(err, "simulate: route %s to shelter %d by %s", in.GEOID, s.ObjectID, mode)
			}
			sr.Routes[mode] = res
		}
		rec.Shelters = append(rec.Shelters, sr)
	}
	return rec, nil
}

// LineSink writes documents as newline-delimited JSON, the same shape as a
// route store export.
type LineSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewLineSink writes to w.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{enc: json.NewEncoder(w)}
}

// Insert writes one document.
func (s *LineSink) Insert(_ context.Context, rec model.RouteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eris.Wrap(s.enc.Encode(rec), "simulate: write document")
}

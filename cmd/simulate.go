package main

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shelter-access/internal/router"
	"github.com/sells-group/shelter-access/internal/shelters"
	"github.com/sells-group/shelter-access/internal/simulate"
	"github.com/sells-group/shelter-access/internal/zones"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Route every at-risk block group to every shelter",
	Long: "Selects block groups intersecting the evacuation zones, asks the trip planner for " +
		"a route to each shelter in each travel mode and stores one document per block group.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("simulate"); err != nil {
			return err
		}
		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = cfg.Simulate.Workers
		}

		overrides, err := originOverrides(cfg.Simulate.OriginOverrides)
		if err != nil {
			return err
		}

		f := newFetcher(cfg.HTTP)
		cat, err := shelters.Ensure(ctx, f, cfg.Sources.SheltersURL, cfg.Sources.SheltersJSON)
		if err != nil {
			return err
		}

		st, err := openStores(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.close()

		union, err := zones.NewBuilder(st.geo, cfg.Analysis.ZoneBuffer).Union(ctx, cfg.Simulate.Zones)
		if err != nil {
			return err
		}
		instructions, err := simulate.Instructions(ctx, st.geo, union, overrides)
		if err != nil {
			return err
		}

		rt := router.NewClient(newFetcher(routerHTTP(cfg.HTTP, cfg.Router)), cfg.Router)
		run := func(sink simulate.Sink) (int, error) {
			return simulate.Run(ctx, instructions, cat.All(), rt, sink, workers)
		}

		var n int
		if cfg.Simulate.Sink == "mongo" {
			rs, err := st.routeStore(cfg.Store.Mongo)
			if err != nil {
				return err
			}
			n, err = run(rs)
			if err != nil {
				return eris.Wrap(err, "simulate")
			}
		} else {
			n, err = routeToFile(cfg.Simulate.Sink, run)
			if err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "routed %d block groups to %d shelters\n", n, cat.Len())
		return nil
	},
}

// routeToFile runs the simulation into a newline-delimited JSON file at path.
// A failed close is reported since buffered documents may be lost with it.
func routeToFile(path string, run func(simulate.Sink) (int, error)) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "simulate: create %s", path)
	}
	n, err := run(simulate.NewLineSink(out))
	if err != nil {
		err = eris.Wrap(err, "simulate")
	}
	if cerr := out.Close(); err == nil {
		err = eris.Wrapf(cerr, "simulate: close %s", path)
	}
	return n, err
}

// originOverrides converts configured [lng, lat] pairs to points.
func originOverrides(raw map[string][]float64) (map[string]orb.Point, error) {
	out := make(map[string]orb.Point, len(raw))
	for geoid, v := range raw {
		if len(v) != 2 {
			return nil, eris.Errorf("simulate: origin override %s needs [lng, lat], got %v", geoid, v)
		}
		out[geoid] = orb.Point{v[0], v[1]}
	}
	return out, nil
}

func init() {
	simulateCmd.Flags().Int("workers", 0, "concurrent block groups (default: config, then CPU count)")
	rootCmd.AddCommand(simulateCmd)
}

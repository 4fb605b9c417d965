package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/analysis"
	"github.com/sells-group/shelter-access/internal/boundary"
	"github.com/sells-group/shelter-access/internal/geostore"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/population"
	"github.com/sells-group/shelter-access/internal/render"
	"github.com/sells-group/shelter-access/internal/routes"
	"github.com/sells-group/shelter-access/internal/store"
	"github.com/sells-group/shelter-access/internal/zones"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Aggregate shelter access and render maps for each mode and N",
	Long: "For every travel mode and every N, averages the travel time from each block group " +
		"to its N closest safe shelters, totals the population each shelter serves, and writes " +
		"statistics JSON plus a map per combination.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if ns, _ := cmd.Flags().GetIntSlice("n"); len(ns) > 0 {
			cfg.Analysis.NClosest = ns
		}
		if off, _ := cmd.Flags().GetBool("no-exclusion"); off {
			cfg.Analysis.ExclusionEnabled = false
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}
		modeNames, _ := cmd.Flags().GetStringSlice("modes")
		modes, err := parseModes(modeNames)
		if err != nil {
			return err
		}
		record, _ := cmd.Flags().GetBool("record")

		pops, err := population.Load(ctx, cfg.Sources.Population, population.Options{
			GEOIDColumn: cfg.Sources.PopulationGEOID,
			Prefix:      cfg.Sources.PopulationPrefix,
			TotalColumn: cfg.Sources.PopulationColumn,
		})
		if err != nil {
			return err
		}
		bnd, err := boundary.Load(cfg.Sources.BoundaryGeoJSON)
		if err != nil {
			return err
		}

		st, err := openStores(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.close()

		polygons, err := geostore.NewCachedStore(st.geo, cfg.Store.CacheSize)
		if err != nil {
			return err
		}

		an := analysis.New(zones.NewBuilder(st.geo, cfg.Analysis.ZoneBuffer), pops, bnd, cfg.Analysis.IgnoreGEOIDs)
		results, err := analyzeAll(ctx, an, fileRecords(cfg.Analysis.OutDir), modes, cfg.Analysis.NClosest, cfg.Analysis.Zones())
		if err != nil {
			return err
		}

		for _, res := range results {
			path, err := writeStats(cfg.Analysis.OutDir, res)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}

		var tiles render.Tiles
		if cfg.Render.TileURL != "" {
			tiles = render.NewTileSource(newFetcher(cfg.HTTP), cfg.Render.TileURL, cfg.Render.TileCacheDir)
		}
		renderer, err := render.New(cfg.Render, polygons, bnd.Shape(), tiles)
		if err != nil {
			return err
		}
		scale := sharedScale(results, cfg.Render.SharedScale)
		for _, res := range results {
			path := filepath.Join(cfg.Analysis.OutDir, render.FileName(res.Mode, res.NClosest))
			if err := renderer.Render(ctx, res, path, scale); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		}
		zap.L().Debug("polygon cache", zap.Int("entries", polygons.Len()))

		if record {
			runs, err := initRunStore(ctx, cfg.Store.RunsDB)
			if err != nil {
				return err
			}
			defer runs.Close() //nolint:errcheck
			ids, err := recordResults(ctx, runs, results)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "recorded run %s\n", id)
			}
		}
		return nil
	},
}

// recordSource loads the normalized routes of a mode.
type recordSource func(ctx context.Context, mode model.Mode) ([]model.RouteRecord, error)

func fileRecords(dir string) recordSource {
	return func(ctx context.Context, mode model.Mode) ([]model.RouteRecord, error) {
		return routes.Load(ctx, routes.SortedPath(dir, mode))
	}
}

// analyzeAll runs every (mode, N) combination, mode-major. Each mode's
// routes are loaded once.
func analyzeAll(ctx context.Context, an *analysis.Analyzer, load recordSource, modes []model.Mode, ns []int, zoneNames []string) ([]*model.Result, error) {
	log := zap.L().With(zap.String("component", "analyze"))
	results := make([]*model.Result, 0, len(modes)*len(ns))

	for _, mode := range modes {
		records, err := load(ctx, mode)
		if err != nil {
			return nil, err
		}
		for _, n := range ns {
			res, err := an.Analyze(ctx, analysis.Options{Mode: mode, NClosest: n, Zones: zoneNames}, records)
			if err != nil {
				return nil, eris.Wrapf(err, "analyze %s n=%d", mode, n)
			}
			log.Info("analysis complete",
				zap.String("mode", mode.String()),
				zap.Int("n_closest", n),
				zap.Int("blockgroups", len(res.BlockGroups)),
				zap.Int("excluded_shelters", len(res.Excluded)),
			)
			results = append(results, res)
		}
	}
	return results, nil
}

// statsFileName returns e.g. shelter_stats_walk_3.json.
func statsFileName(mode model.Mode, n int) string {
	return fmt.Sprintf("shelter_stats_%s_%d.json", mode, n)
}

func writeStats(dir string, res *model.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "analyze: create output directory")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "analyze: encode stats")
	}
	path := filepath.Join(dir, statsFileName(res.Mode, res.NClosest))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "analyze: write %s", path)
	}
	return path, nil
}

// sharedScale returns one colour scale spanning every result, or nil so each
// map scales to its own range.
func sharedScale(results []*model.Result, enabled bool) *render.Scale {
	if !enabled {
		return nil
	}
	lo, hi, ok := analysis.Range(results)
	if !ok {
		return nil
	}
	return &render.Scale{Min: lo, Max: hi}
}

func recordResults(ctx context.Context, st store.Store, results []*model.Result) ([]string, error) {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		run, err := st.CreateRun(ctx, store.RunParams{
			Mode:     res.Mode,
			NClosest: res.NClosest,
			Zones:    res.ExcludedZones,
		})
		if err != nil {
			return ids, err
		}
		if err := st.SaveResult(ctx, run.ID, res); err != nil {
			return ids, err
		}
		ids = append(ids, run.ID)
	}
	return ids, nil
}

func init() {
	f := analyzeCmd.Flags()
	f.StringSlice("modes", nil, "travel modes (default: analysis.modes)")
	f.IntSlice("n", nil, "closest shelter counts (default: analysis.n_closest)")
	f.Bool("no-exclusion", false, "count shelters inside the evacuation zones")
	f.Bool("record", false, "record results in the run history database")
	rootCmd.AddCommand(analyzeCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/routes"
	"github.com/sells-group/shelter-access/internal/shelters"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Sort raw route documents by travel time for each mode",
	Long: "Reads the raw route export, attaches shelter coordinates and writes one sorted " +
		"route array per travel mode. With --export the raw documents are first dumped from the route store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("normalize"); err != nil {
			return err
		}
		modeNames, _ := cmd.Flags().GetStringSlice("modes")
		modes, err := parseModes(modeNames)
		if err != nil {
			return err
		}

		if export, _ := cmd.Flags().GetBool("export"); export {
			if err := exportRoutes(ctx, cfg.Sources.RoutesJSON); err != nil {
				return err
			}
		}

		cat, err := shelters.Ensure(ctx, newFetcher(cfg.HTTP), cfg.Sources.SheltersURL, cfg.Sources.SheltersJSON)
		if err != nil {
			return err
		}

		paths, err := routes.NormalizeAll(ctx, routes.FileSource(cfg.Sources.RoutesJSON), cat, modes, cfg.Analysis.OutDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

// exportRoutes dumps the raw route collection to path as NDJSON.
func exportRoutes(ctx context.Context, path string) error {
	if err := cfg.Validate("export"); err != nil {
		return err
	}
	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.close()

	rs, err := st.routeStore(cfg.Store.Mongo)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "normalize: create sources directory")
	}
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "normalize: create export")
	}
	n, err := rs.Export(ctx, out)
	if cerr := out.Close(); err == nil {
		err = eris.Wrap(cerr, "normalize: close export")
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrap(err, "normalize: move export")
	}

	zap.L().Info("route documents exported",
		zap.String("component", "normalize"),
		zap.String("path", path),
		zap.Int("documents", n),
	)
	return nil
}

func init() {
	normalizeCmd.Flags().Bool("export", false, "export raw routes from the route store first")
	normalizeCmd.Flags().StringSlice("modes", nil, "travel modes (default: analysis.modes)")
	rootCmd.AddCommand(normalizeCmd)
}

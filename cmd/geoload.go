package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/shelter-access/internal/tiger"
)

// Shapefile key fields per load kind.
var geoloadKeys = map[string]string{
	"blockgroups": "GEOID",
	"zones":       "ZONE",
}

var geoloadCmd = &cobra.Command{
	Use:   "geoload",
	Short: "Load block group or evacuation zone polygons into the geometry store",
	Long: "Reads a shapefile (or downloads the Census TIGER/Line block group archive) " +
		"and upserts its polygons into the configured geometry store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("geoload"); err != nil {
			return err
		}

		kind, _ := cmd.Flags().GetString("kind")
		shapefile, _ := cmd.Flags().GetString("shapefile")
		keyField, _ := cmd.Flags().GetString("key-field")

		if _, ok := geoloadKeys[kind]; !ok {
			return eris.Errorf("geoload: unknown kind %q (want blockgroups or zones)", kind)
		}
		if keyField == "" {
			keyField = geoloadKeys[kind]
		}

		if shapefile == "" {
			if kind != "blockgroups" {
				return eris.New("geoload: --shapefile is required for zones")
			}
			if err := os.MkdirAll(cfg.Tiger.TempDir, 0o755); err != nil {
				return eris.Wrap(err, "geoload: create temp dir")
			}
			url := tiger.BlockGroupURL(cfg.Tiger.Year, cfg.Tiger.State)
			path, err := tiger.Download(ctx, newFetcher(cfg.HTTP), url, cfg.Tiger.TempDir)
			if err != nil {
				return err
			}
			shapefile = path
		}

		features, err := tiger.ReadShapefile(shapefile, keyField)
		if err != nil {
			return err
		}

		st, err := openStores(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.close()

		if ix, ok := st.geo.(interface{ EnsureIndexes(context.Context) error }); ok {
			if err := ix.EnsureIndexes(ctx); err != nil {
				return err
			}
		}

		var n int64
		if kind == "blockgroups" {
			n, err = st.geo.PutBlockGroups(ctx, features)
		} else {
			n, err = st.geo.PutZones(ctx, features)
		}
		if err != nil {
			return eris.Wrapf(err, "geoload: %s", kind)
		}

		zap.L().Info("geometries loaded",
			zap.String("component", "geoload"),
			zap.String("kind", kind),
			zap.String("shapefile", shapefile),
			zap.Int("features", len(features)),
			zap.Int64("written", n),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d %s from %s\n", n, kind, shapefile)
		return nil
	},
}

func init() {
	f := geoloadCmd.Flags()
	f.String("kind", "blockgroups", "what to load: blockgroups or zones")
	f.String("shapefile", "", "path to a .shp file (default: download TIGER/Line block groups)")
	f.String("key-field", "", "attribute holding the feature key (default GEOID or ZONE)")
	f.String("state", "", "two-digit state FIPS code for the TIGER download")
	f.Int("year", 0, "TIGER/Line vintage")

	// Flags override config for the download.
	geoloadCmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if state, _ := cmd.Flags().GetString("state"); state != "" {
			cfg.Tiger.State = state
		}
		if year, _ := cmd.Flags().GetInt("year"); year > 0 {
			cfg.Tiger.Year = year
		}
		return nil
	}

	rootCmd.AddCommand(geoloadCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shelter-access/internal/shelters"
)

var sheltersCmd = &cobra.Command{
	Use:   "shelters",
	Short: "Manage the shelter catalogue",
}

var sheltersFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the shelter catalogue and convert it to GeoJSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("shelters"); err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		path := cfg.Sources.SheltersJSON

		if force {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return eris.Wrapf(err, "shelters fetch: remove %s", path)
			}
		}

		cat, err := shelters.Ensure(cmd.Context(), newFetcher(cfg.HTTP), cfg.Sources.SheltersURL, path)
		if err != nil {
			return eris.Wrap(err, "shelters fetch")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d shelters in %s\n", cat.Len(), path)
		return nil
	},
}

func init() {
	sheltersFetchCmd.Flags().Bool("force", false, "download again even when the catalogue exists")

	sheltersCmd.AddCommand(sheltersFetchCmd)
	rootCmd.AddCommand(sheltersCmd)
}

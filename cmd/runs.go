package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded analysis runs",
	Long:  "Commands for listing recorded runs and viewing the shelter totals of one run.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initRunStore(ctx, cfg.Store.RunsDB)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mode, _ := cmd.Flags().GetString("mode")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{Limit: limit}
		if mode != "" {
			m, err := model.ParseMode(mode)
			if err != nil {
				return err
			}
			filter.Mode = m
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and the population each shelter served",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initRunStore(ctx, cfg.Store.RunsDB)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		totals, err := st.ShelterTotals(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			stats, err := st.BlockGroupStats(ctx, run.ID)
			if err != nil {
				return eris.Wrap(err, "runs show")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*store.Run
				Shelters    []store.ShelterTotal   `json:"shelters"`
				BlockGroups []model.BlockGroupStat `json:"blockgroup_stats"`
			}{run, totals, stats})
		}

		formatRun(cmd.OutOrStdout(), run, totals)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("mode", "", "filter by travel mode (walk, drive, transit)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("json", false, "print the run, shelter totals and block group averages as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tN\tZONES\tSTATUS\tBLOCKGROUPS\tNO_ACCESS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-\t-----\t------\t-----------\t---------\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(r.ID),
			r.Params.Mode,
			r.Params.NClosest,
			zoneList(r.Params.Zones),
			r.Status,
			r.BlockGroups,
			r.Inaccessible,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatRun writes a run summary followed by its shelter totals.
func formatRun(out io.Writer, run *store.Run, totals []store.ShelterTotal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", run.Params.Mode)
	_, _ = fmt.Fprintf(w, "Closest:\t%d\n", run.Params.NClosest)
	_, _ = fmt.Fprintf(w, "Excluded zones:\t%s\n", zoneList(run.Params.Zones))
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	_, _ = fmt.Fprintf(w, "Block groups:\t%d\n", run.BlockGroups)
	_, _ = fmt.Fprintf(w, "  Without access:\t%d\n", run.Inaccessible)
	_, _ = fmt.Fprintf(w, "Active shelters:\t%d\n", run.ActiveShelters)
	_, _ = fmt.Fprintf(w, "Unsafe shelters:\t%d\n", run.Excluded)
	_ = w.Flush()

	if len(totals) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SHELTER\tPOPULATION\tSTATUS")
	for _, t := range totals {
		status := "active"
		if t.Excluded {
			status = "unsafe"
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\n", t.ObjectID, t.Population, status)
	}
	_ = w.Flush()
}

func zoneList(zones []string) string {
	if len(zones) == 0 {
		return "-"
	}
	return strings.Join(zones, ",")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

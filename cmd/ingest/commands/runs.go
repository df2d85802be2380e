package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docembed/internal/service"
	"docembed/internal/storage"
)

// NewRunsCmd creates the runs command
func NewRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded ingestion runs",
		Long: `List ingestion runs from the run ledger, newest first.

The ledger is an audit trail only; resuming never reads it.

Examples:
  docembed runs
  docembed runs --limit 50 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", storage.DefaultListLimit, "Maximum runs to list")

	return cmd
}

func runRuns(cmd *cobra.Command, limit int) error {
	if limit <= 0 {
		return &service.ValidationError{Field: "limit", Message: "must be positive"}
	}

	return withSession(func(s *session) error {
		runs, err := s.svc.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(out, runs)
		}

		if len(runs) == 0 {
			if !quiet {
				fmt.Fprintln(out, "No runs recorded")
			}
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "STARTED\tSTATUS\tSOURCE\tCOLLECTION\tWRITTEN\tSKIPPED\tTOTAL\tID\n")
		for _, run := range runs {
			status := run.Status
			if run.FailedBatch > 0 {
				status = fmt.Sprintf("%s@%d", status, run.FailedBatch)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				formatTime(run.StartedAt), status,
				truncate(run.Source, 30), run.Collection,
				run.Written, run.Skipped, run.Total, run.ID)
		}
		return w.Flush()
	})
}

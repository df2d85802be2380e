package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docembed/internal/apperr"
	"docembed/internal/service"
)

type progressOptions struct {
	collection string
	document   string
}

// NewProgressCmd creates the progress command
func NewProgressCmd() *cobra.Command {
	var opts progressOptions

	cmd := &cobra.Command{
		Use:   "progress <source>",
		Short: "Show which chunks of a document are stored",
		Long: `Report how many chunks of a source the collection already holds.

With --document the file is chunked locally and the missing chunk indices
are listed; nothing is embedded or written.

Examples:
  docembed progress book.md
  docembed progress --document ./book.md book.md
  docembed progress --collection music_theory --format json book.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgress(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.collection, "collection", "", "Collection to inspect (default from COLLECTION)")
	cmd.Flags().StringVar(&opts.document, "document", "", "Local copy of the document, to list missing chunks")

	return cmd
}

func runProgress(cmd *cobra.Command, source string, opts progressOptions) error {
	req := service.ProgressRequest{Source: source, Collection: opts.collection}
	if opts.document != "" {
		content, err := os.ReadFile(opts.document)
		if err != nil {
			return apperr.Wrap(apperr.ErrConfig, "failed to read document", err)
		}
		req.Document = content
	}

	return withSession(func(s *session) error {
		progress, err := s.svc.Progress(cmd.Context(), req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(out, progress)
		}

		fmt.Fprintf(out, "Source:     %s\n", progress.Source)
		fmt.Fprintf(out, "Collection: %s\n", progress.Collection)
		fmt.Fprintf(out, "Persisted:  %d chunk(s)\n", progress.Persisted)
		if progress.DocumentGiven {
			fmt.Fprintf(out, "Total:      %d chunk(s)\n", progress.Total)
			if len(progress.Missing) == 0 {
				fmt.Fprintf(out, "Missing:    none\n")
			} else {
				fmt.Fprintf(out, "Missing:    %d chunk(s): %s\n", len(progress.Missing), truncate(joinInts(progress.Missing), 200))
			}
		}
		if run := progress.LastRun; run != nil {
			fmt.Fprintf(out, "Last run:   %s %s at %s (%d/%d written)\n",
				run.ID, run.Status, formatTime(run.StartedAt), run.Written, run.Total)
		}
		return nil
	})
}

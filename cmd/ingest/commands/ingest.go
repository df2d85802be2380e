package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"docembed/internal/apperr"
	"docembed/internal/corpus"
	"docembed/internal/indexer"
	"docembed/internal/service"
)

type ingestOptions struct {
	collection   string
	batchSize    int
	dryRun       bool
	allowChanged bool
}

// ingestReport is the outcome for one document.
type ingestReport struct {
	Source      string              `json:"source"`
	Path        string              `json:"path"`
	Collection  string              `json:"collection,omitempty"`
	RunID       string              `json:"run_id,omitempty"`
	Total       int                 `json:"total"`
	Skipped     int                 `json:"skipped"`
	Embedded    int                 `json:"embedded"`
	Written     int                 `json:"written"`
	Batches     int                 `json:"batches"`
	BatchesDone int                 `json:"batches_done"`
	Planned     []indexer.BatchPlan `json:"planned,omitempty"`
	Error       string              `json:"error,omitempty"`
	Kind        string              `json:"kind,omitempty"`
	FailedBatch int                 `json:"failed_batch,omitempty"`
}

// NewIngestCmd creates the ingest command
func NewIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed and store markdown documents",
		Long: `Ingest a markdown file, or every .md file under a directory.

Chunks already present in the collection are skipped, so an interrupted or
failed run is resumed by running the same command again. Documents are
processed one after another; the first failure stops the run.

Chunks are stored under the document's source name: the file name for a
single file, or the path relative to <path> for a directory. Resume a
document the same way it was first ingested: docs/guides/setup.md is
"guides/setup.md" under "ingest docs/" but "setup.md" when passed directly,
and the two names are stored as separate documents.

Examples:
  docembed ingest book.md
  docembed ingest --collection music_theory --batch-size 8 docs/
  docembed ingest --dry-run book.md
  docembed ingest --format json book.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.collection, "collection", "", "Target collection (default from COLLECTION)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Chunks per embed/write batch (default from BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Plan the batches without embedding or writing")
	cmd.Flags().BoolVar(&opts.allowChanged, "allow-changed", false, "Ingest even if the document changed since its last run")

	return cmd
}

func runIngest(cmd *cobra.Command, path string, opts ingestOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.batchSize < 0 {
		return &service.ValidationError{Field: "batch-size", Message: "must not be negative"}
	}

	docs, err := corpus.Resolve(ctx, path)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return apperr.New(apperr.ErrConfig, "no markdown documents found under %s", path)
	}

	return withSession(func(s *session) error {
		reports := make([]ingestReport, 0, len(docs))
		var runErr error

		for _, doc := range docs {
			content, err := os.ReadFile(doc.Path)
			if err != nil {
				runErr = apperr.Wrap(apperr.ErrConfig, "failed to read "+doc.Path, err)
				break
			}

			resp, err := s.svc.Ingest(ctx, service.IngestRequest{
				Source:       doc.Source,
				Collection:   opts.collection,
				Document:     content,
				BatchSize:    opts.batchSize,
				DryRun:       opts.dryRun,
				AllowChanged: opts.allowChanged,
			})
			report := newIngestReport(doc, resp, err)
			reports = append(reports, report)

			if outputFormat != "json" {
				printIngestReport(out, report, opts.dryRun)
			}
			if err != nil {
				runErr = fmt.Errorf("ingesting %s: %w", doc.Source, err)
				break
			}
		}

		if outputFormat == "json" {
			if err := writeJSON(out, reports); err != nil {
				return err
			}
		} else if runErr == nil && !quiet && len(docs) > 1 {
			written := 0
			for _, r := range reports {
				written += r.Written
			}
			fmt.Fprintf(out, "\n%d document(s), %d chunk(s) written\n", len(reports), written)
		}
		return runErr
	})
}

func newIngestReport(doc corpus.Document, resp *service.IngestResponse, err error) ingestReport {
	report := ingestReport{Source: doc.Source, Path: doc.Path}
	if resp != nil {
		report.Collection = resp.Collection
		report.RunID = resp.RunID
		report.Total = resp.Result.Total
		report.Skipped = resp.Result.Skipped
		report.Embedded = resp.Result.Embedded
		report.Written = resp.Result.Written
		report.Batches = resp.Result.Batches
		report.BatchesDone = resp.Result.BatchesDone
		report.Planned = resp.Result.Planned
	}
	if err != nil {
		report.Error = err.Error()
		report.Kind = apperr.KindName(err)
		var batchErr *indexer.BatchError
		if errors.As(err, &batchErr) {
			report.FailedBatch = batchErr.Batch
		}
	}
	return report
}

func printIngestReport(w io.Writer, r ingestReport, dryRun bool) {
	switch {
	case r.Error != "" && r.FailedBatch > 0:
		fmt.Fprintf(w, "%s: stopped at batch %d of %d (%s error) after writing %d chunk(s); re-run to resume\n",
			r.Source, r.FailedBatch, r.Batches, r.Kind, r.Written)
	case r.Error != "":
		fmt.Fprintf(w, "%s: failed (%s error)\n", r.Source, r.Kind)
	case dryRun:
		fmt.Fprintf(w, "%s: %d chunk(s), %d already stored, %d batch(es) to run\n",
			r.Source, r.Total, r.Skipped, r.Batches)
		for _, b := range r.Planned {
			fmt.Fprintf(w, "  batch %d: chunks %d-%d (%d)\n", b.Number, b.FirstIndex, b.LastIndex, b.Size)
		}
	case r.Batches == 0:
		fmt.Fprintf(w, "%s: %d chunk(s), all already stored\n", r.Source, r.Total)
	default:
		fmt.Fprintf(w, "%s: %d chunk(s), %d already stored, %d written in %d batch(es)\n",
			r.Source, r.Total, r.Skipped, r.Written, r.Batches)
	}
}

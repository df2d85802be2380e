package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docembed/internal/service"
)

type searchOptions struct {
	collection string
	topK       int
	chapter    string
	source     string
}

type searchHit struct {
	Score      float32 `json:"score"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Chapter    string  `json:"chapter"`
	Heading    string  `json:"heading"`
	Text       string  `json:"text"`
}

// NewSearchCmd creates the search command
func NewSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored chunks",
		Long: `Embed a query and return the most similar stored chunks.

Results can be narrowed to one chapter or one source document.

Examples:
  docembed search "circle of fifths"
  docembed search --top-k 5 --chapter "Chapter 3" "minor scales"
  docembed search --format json "voice leading"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.collection, "collection", "", "Collection to search (default from COLLECTION)")
	cmd.Flags().IntVar(&opts.topK, "top-k", service.DefaultTopK, "Maximum results to return")
	cmd.Flags().StringVar(&opts.chapter, "chapter", "", "Only return chunks from this chapter")
	cmd.Flags().StringVar(&opts.source, "source", "", "Only return chunks from this source")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.topK <= 0 {
		return &service.ValidationError{Field: "top-k", Message: "must be positive"}
	}

	return withSession(func(s *session) error {
		results, err := s.svc.Search(cmd.Context(), service.SearchRequest{
			Query:      query,
			Collection: opts.collection,
			TopK:       opts.topK,
			Chapter:    opts.chapter,
			Source:     opts.source,
		})
		if err != nil {
			return err
		}

		hits := make([]searchHit, 0, len(results))
		for _, r := range results {
			hits = append(hits, searchHit{
				Score:      r.Score,
				Source:     r.Record.Source,
				ChunkIndex: r.Record.ChunkIndex,
				Chapter:    r.Record.Chapter,
				Heading:    r.Record.Heading,
				Text:       r.Record.Text,
			})
		}

		out := cmd.OutOrStdout()
		if outputFormat == "json" {
			return writeJSON(out, hits)
		}

		if len(hits) == 0 {
			if !quiet {
				fmt.Fprintf(out, "No chunks found for query: %s\n", query)
			}
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "SCORE\tCHUNK\tCHAPTER\tHEADING\tPREVIEW\n")
		fmt.Fprintf(w, "-----\t-----\t-------\t-------\t-------\n")
		for _, h := range hits {
			fmt.Fprintf(w, "%.3f\t%s#%d\t%s\t%s\t%s\n",
				h.Score,
				truncate(h.Source, 25), h.ChunkIndex,
				truncate(h.Chapter, 20),
				truncate(h.Heading, 25),
				truncate(oneLine(h.Text), 60))
		}
		return w.Flush()
	})
}

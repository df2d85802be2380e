package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"docembed/internal/apperr"
	"docembed/internal/indexer"
)

type chunksOptions struct {
	maxRunes       int
	overlap        int
	splitDepth     int
	chapterLevel   int
	embeddingModel string
	list           bool
}

// NewChunksCmd creates the chunks command
func NewChunksCmd() *cobra.Command {
	defaults := indexer.DefaultChunkConfig()
	var opts chunksOptions

	cmd := &cobra.Command{
		Use:   "chunks <file>",
		Short: "Chunk a document and print statistics",
		Long: `Chunk a markdown file locally and report chunk counts, sizes and chapters.

Nothing is embedded or written and no configuration is needed. Use it to tune
the chunk settings before a first ingest.

Examples:
  docembed chunks book.md
  docembed chunks --max-runes 1000 --overlap 100 --list book.md
  docembed chunks --format json book.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunks(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxRunes, "max-runes", defaults.MaxChunkRunes, "Maximum runes per chunk")
	cmd.Flags().IntVar(&opts.overlap, "overlap", defaults.OverlapRunes, "Runes repeated between pieces of a long section")
	cmd.Flags().IntVar(&opts.splitDepth, "split-depth", defaults.SplitDepth, "Deepest heading level that starts a chunk")
	cmd.Flags().IntVar(&opts.chapterLevel, "chapter-level", defaults.ChapterLevel, "Heading level that always opens a chapter (0 disables)")
	cmd.Flags().StringVar(&opts.embeddingModel, "embedding-model", "", "Embedding model name, for the index version")
	cmd.Flags().BoolVar(&opts.list, "list", false, "List every chunk")

	return cmd
}

func runChunks(cmd *cobra.Command, path string, opts chunksOptions) error {
	if opts.maxRunes <= 0 {
		return apperr.New(apperr.ErrConfig, "--max-runes must be positive")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(apperr.ErrConfig, "failed to read document", err)
	}

	chunker := indexer.NewGoldmarkChunker(indexer.ChunkConfig{
		SplitDepth:    opts.splitDepth,
		ChapterLevel:  opts.chapterLevel,
		MaxChunkRunes: opts.maxRunes,
		OverlapRunes:  opts.overlap,
	})
	chunks := chunker.ChunkAll(content, filepath.Base(path))
	stats := indexer.ComputeChunkStats(chunks, chunker.Config(), opts.embeddingModel)

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		if opts.list {
			return writeJSON(out, struct {
				Stats  indexer.ChunkStats `json:"stats"`
				Chunks []indexer.Chunk    `json:"chunks"`
			}{stats, chunks})
		}
		return writeJSON(out, stats)
	}

	fmt.Fprintf(out, "Chunks:        %d (%d heading only)\n", stats.Chunks, stats.HeadingOnly)
	fmt.Fprintf(out, "Runes:         min %d, max %d, mean %.1f, p95 %d\n",
		stats.Runes.Min, stats.Runes.Max, stats.Runes.Mean, stats.Runes.P95)
	fmt.Fprintf(out, "Tokens (est.): min %d, max %d, mean %.1f, p95 %d\n",
		stats.Tokens.Min, stats.Tokens.Max, stats.Tokens.Mean, stats.Tokens.P95)
	fmt.Fprintf(out, "Chunker:       %s (index %s)\n", stats.ChunkerVersion, stats.IndexVersion)
	fmt.Fprintf(out, "Chapters:      %d\n", len(stats.ChapterOrder))
	for _, chapter := range stats.ChapterOrder {
		fmt.Fprintf(out, "  %-40s %d\n", truncate(chapter, 40), stats.Chapters[chapter])
	}

	if opts.list {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "INDEX\tLEVEL\tRUNES\tCHAPTER\tHEADING\n")
		for _, c := range chunks {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n",
				c.Index, c.Level, len([]rune(c.Text)), truncate(c.Chapter, 25), truncate(c.Heading, 40))
		}
		return w.Flush()
	}
	return nil
}

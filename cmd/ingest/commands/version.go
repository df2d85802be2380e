package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"docembed/internal/app"
	"docembed/internal/indexer"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the build version and the chunker version used for chunk indices.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":         app.Version,
					"chunker_version": indexer.ChunkerVersion,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "docembed %s\n", app.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Chunker: %s\n", indexer.ChunkerVersion)
			return nil
		},
	}
}

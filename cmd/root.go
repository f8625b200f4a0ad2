// Package cmd wires the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "webrag",
	Short: "webrag - retrieval-augmented chat over web articles",
	Long: `webrag fetches a set of web articles, chunks and embeds them into a
pgvector-backed store, and serves a JSON API that answers questions
with and without retrieval so the two can be compared side by side.

Running webrag with no arguments starts the API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

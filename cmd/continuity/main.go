// Package main provides the entry point for the continuity CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0-dev"
	globalBook string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:          "continuity",
		Short:        "Consistency checking for long-form fiction manuscripts",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&globalBook, "book", "b", "", "Book to operate on")

	rootCmd.AddCommand(
		newInitCmd(),
		newBooksCmd(),
		newScanCmd(),
		newCheckCmd(),
		newWatchCmd(),
		newFactsCmd(),
		newEventsCmd(),
		newQueryCmd(),
		newIssuesCmd(),
		newAliasCmd(),
		newAnalysisCmd(),
		newAuditCmd(),
		newExportCmd(),
		newImportCmd(),
		newServeCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

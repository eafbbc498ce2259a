package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/services"
)

type importFlags struct {
	format     string
	dryRun     bool
	onConflict string
}

func newImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a story bible from JSON or CSV",
		Long:  "Seeds the fact store with established facts. Facts without a chapter are treated as known before chapter one. Imported facts are checked against like any other.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "auto", "File format (json, csv, auto)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Validate without saving")
	cmd.Flags().StringVar(&flags.onConflict, "on-conflict", string(services.ConflictSkip), "Conflict handling (skip, overwrite)")

	return cmd
}

func runImport(cmd *cobra.Command, filePath string, flags importFlags) error {
	onConflict, err := services.ParseConflictStrategy(flags.onConflict)
	if err != nil {
		return fmt.Errorf("invalid --on-conflict value %q (valid: skip, overwrite)", flags.onConflict)
	}

	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		opts := handlers.ImportOptions{
			Format:     flags.format,
			DryRun:     flags.dryRun,
			OnConflict: onConflict,
		}

		fmt.Printf("Importing %s...\n", filePath)

		result, err := handlers.NewImportHandler(d.Engine).Handle(ctx, bookID, filePath, opts)
		if err != nil {
			return fmt.Errorf("importing file: %w", err)
		}

		// Display errors
		if len(result.Errors) > 0 {
			fmt.Printf("\nValidation errors (%d):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  %s\n", e.Error())
			}
		}

		// Display summary
		fmt.Println()
		if flags.dryRun {
			fmt.Printf("Dry run: %d facts would be imported", result.Imported)
		} else {
			fmt.Printf("Imported: %d facts", result.Imported)
		}

		if result.Unchanged > 0 {
			fmt.Printf(", %d unchanged", result.Unchanged)
		}

		if result.Skipped > 0 {
			fmt.Printf(", %d skipped (conflicting value already stored)", result.Skipped)
		}

		if len(result.Errors) > 0 {
			fmt.Printf(", %d errors", len(result.Errors))
		}

		fmt.Println()

		return nil
	})
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
)

type checkFlags struct {
	file  string
	index int
}

func newCheckCmd() *cobra.Command {
	var flags checkFlags

	cmd := &cobra.Command{
		Use:   "check [chapter]",
		Short: "Check one chapter against the fact store",
		Long:  "Checks a chapter of the manuscript, named by its file name, or a draft file given with --file, and stores the facts it establishes.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Check a file outside the manuscript")
	cmd.Flags().IntVarP(&flags.index, "index", "i", 0, "Chapter index of the file given with --file")

	return cmd
}

func runCheck(cmd *cobra.Command, args []string, flags checkFlags) error {
	if (len(args) == 1) == (flags.file != "") {
		return fmt.Errorf("name either a chapter or a --file")
	}
	if flags.file != "" && flags.index < 1 {
		return fmt.Errorf("--index is required with --file")
	}

	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		handler := handlers.NewCheckHandler(d.Engine, d.Source)

		var (
			result *handlers.CheckFileResult
			err    error
		)
		if flags.file != "" {
			result, err = handler.HandleFile(ctx, bookID, flags.file, flags.index)
		} else {
			result, err = handler.HandleChapter(ctx, bookID, args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("Checked %s (chapter %d): %d facts\n", result.Chapter.ChapterID, result.Chapter.ChapterIndex, result.FactsChecked)
		if len(result.Issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		fmt.Printf("\n%d issues:\n\n", len(result.Issues))
		for _, issue := range result.Issues {
			displayIssue(issue)
		}
		return nil
	})
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/services"
)

func newScanCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the whole book",
		Long:  "Extracts facts and events from every chapter, rebuilds the timeline and raises consistency issues. Interrupting the command cancels the scan; nothing is committed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final summary")

	return cmd
}

func runScan(cmd *cobra.Command, quiet bool) error {
	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		var progress func(services.ScanStatus)
		if !quiet {
			progress = func(st services.ScanStatus) {
				if st.Phase.IsTerminal() {
					return
				}
				fmt.Printf("[%3d%%] %s (%d/%d chapters)\n", st.Percent, st.Phase, st.ChaptersDone, st.ChaptersTotal)
			}
		}

		st, err := handlers.NewScanHandler(d.Engine).Handle(ctx, bookID, progress)
		if err != nil {
			return fmt.Errorf("scanning book: %w", err)
		}

		switch st.Phase {
		case services.PhaseError:
			return fmt.Errorf("scan failed: %s", st.Error)
		case services.PhaseCancelled:
			fmt.Println("Scan cancelled.")
			return nil
		}

		fmt.Printf("Scanned %d chapters: %d facts extracted, %d issues raised\n",
			st.ChaptersTotal, st.FactsExtracted, st.IssuesRaised)
		if st.Degraded {
			fmt.Printf("Warning: %d chapters could not be processed: %s\n",
				len(st.StaleChapters), strings.Join(st.StaleChapters, ", "))
		}

		return nil
	})
}

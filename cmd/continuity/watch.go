package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/entities"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Check chapters as they are saved",
		Long:  "Watches the book's manuscript directory and checks every chapter file that is written. Rapid saves are coalesced into one check.",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		dir, err := d.Books.Dir(d.BasePath, bookID)
		if err != nil {
			return err
		}

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", dir)

		handler := handlers.NewWatchHandler(d.Engine, d.Source, d.Logger)
		return handler.Handle(ctx, bookID, dir, func(ch entities.Chapter) {
			fmt.Printf("Queued %s for checking\n", ch.ID)
		})
	})
}

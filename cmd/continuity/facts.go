package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/entities"
)

func newFactsCmd() *cobra.Command {
	var (
		limit    int
		category string
		subject  string
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List stored facts",
		Long:  "Lists the book's active facts in story order with optional filtering.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFacts(cmd, limit, category, subject)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultListLimit, "Maximum number of facts to display (0 for all)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Filter by subject (aliases are resolved)")

	return cmd
}

func runFacts(cmd *cobra.Command, limit int, category, subject string) error {
	filter, err := factFilter(category, subject)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		facts, err := d.Engine.Facts(ctx, bookID, filter)
		if err != nil {
			return fmt.Errorf("listing facts: %w", err)
		}

		if len(facts) == 0 {
			fmt.Println("No facts found.")
			return nil
		}

		displayFacts(facts, limit)
		return nil
	})
}

func factFilter(category, subject string) (entities.FactFilter, error) {
	c, err := entities.ParseFilter(category, entities.ParseCategory)
	if err != nil {
		return entities.FactFilter{}, err
	}
	return entities.FactFilter{Category: c, Subject: subject}, nil
}

func displayFacts(facts []entities.StoryFact, limit int) {
	total := len(facts)
	if limit > 0 && total > limit {
		facts = facts[:limit]
		fmt.Printf("Showing %d of %d facts:\n\n", len(facts), total)
	} else {
		fmt.Printf("Showing %d facts:\n\n", total)
	}

	for _, fact := range facts {
		displayFact(fact)
	}
}

func displayFact(fact entities.StoryFact) {
	fmt.Printf("ID: %s\n", fact.ID)
	fmt.Printf("  [%s] %s / %s = %s\n", fact.Category, fact.Subject, fact.Attribute, fact.Value)
	fmt.Printf("  Importance: %s\n", fact.Importance)
	fmt.Printf("  Established: %s\n", formatRef(fact.EstablishedIn))
	if fact.EstablishedIn.Excerpt != "" {
		fmt.Printf("  Excerpt: %s\n", fact.EstablishedIn.Excerpt)
	}
	if n := len(fact.History); n > 0 {
		fmt.Printf("  Revisions: %d\n", n)
	}
	fmt.Println()
}

func formatRef(ref entities.SourceRef) string {
	if ref.ChapterTitle != "" && ref.ChapterTitle != ref.ChapterID {
		return fmt.Sprintf("%s %q (chapter %d)", ref.ChapterID, ref.ChapterTitle, ref.ChapterIndex)
	}
	return fmt.Sprintf("%s (chapter %d)", ref.ChapterID, ref.ChapterIndex)
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Show the timeline",
		Long:  "Lists the book's timeline events in narrative order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				events, err := d.Engine.Events(ctx, bookID)
				if err != nil {
					return fmt.Errorf("listing events: %w", err)
				}

				if len(events) == 0 {
					fmt.Println("No events found.")
					return nil
				}

				for i, e := range events {
					displayEvent(i+1, e)
				}
				return nil
			})
		},
	}
}

func displayEvent(n int, e entities.TimelineEvent) {
	when := e.StoryTime.Label
	if e.StoryTime.DayNumber != nil {
		when = strings.TrimSpace(fmt.Sprintf("day %d %s", *e.StoryTime.DayNumber, when))
	}
	if when == "" {
		when = "-"
	}
	fmt.Printf("%d. [%s] %s (chapter %d)\n", n, when, e.Description, e.ChapterIndex)
	if len(e.Characters) > 0 {
		fmt.Printf("   Characters: %s\n", strings.Join(e.Characters, ", "))
	}
	if len(e.Locations) > 0 {
		fmt.Printf("   Locations: %s\n", strings.Join(e.Locations, ", "))
	}
}

func newQueryCmd() *cobra.Command {
	var (
		limit    int
		category string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Search for facts",
		Long:  "Searches the book's facts. Uses the semantic fact index when one is configured, and matches words otherwise.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], limit, category)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultQueryLimit, "Maximum number of results")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category")

	return cmd
}

func runQuery(cmd *cobra.Command, query string, limit int, category string) error {
	var c entities.Category
	if category != "" {
		var err error
		if c, err = entities.ParseCategory(category); err != nil {
			return err
		}
	}

	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		queryHandler := handlers.NewQueryHandler(d.Engine)

		var (
			result *handlers.QueryResult
			err    error
		)
		if category != "" {
			result, err = queryHandler.HandleByCategory(ctx, bookID, query, c, limit)
		} else {
			result, err = queryHandler.Handle(ctx, bookID, query, limit)
		}
		if err != nil {
			return fmt.Errorf("querying facts: %w", err)
		}

		if len(result.Facts) == 0 {
			fmt.Println("No facts found.")
			return nil
		}

		fmt.Printf("Found %d facts:\n\n", len(result.Facts))

		for i, fact := range result.Facts {
			fmt.Printf("%d. [%s] %s / %s = %s\n", i+1, fact.Category, fact.Subject, fact.Attribute, fact.Value)
			fmt.Printf("   Source: %s\n", formatRef(fact.EstablishedIn))
			fmt.Println()
		}

		return nil
	})
}

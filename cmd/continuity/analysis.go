package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newAnalysisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analysis",
		Short: "Show the continuity score",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				a, err := d.Engine.Analysis(ctx, bookID)
				if err != nil {
					return fmt.Errorf("computing analysis: %w", err)
				}

				fmt.Printf("Book: %s\n", a.BookID)
				fmt.Printf("Continuity score: %d/100\n", a.ContinuityScore)
				fmt.Printf("Open issues: %d critical, %d warning, %d suggestion\n",
					a.OpenIssues.Critical, a.OpenIssues.Warning, a.OpenIssues.Suggestion)
				fmt.Printf("Facts: %d\n", a.FactCount)
				fmt.Printf("Events: %d\n", a.EventCount)
				return nil
			})
		},
	}
}

func newAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias ALIAS CANONICAL",
		Short: "Register an alternate name for a subject",
		Long:  "Makes ALIAS resolve to CANONICAL when facts are stored and compared, e.g. 'alias \"the captain\" Marcus'.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				if err := d.Engine.RegisterAlias(ctx, bookID, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("%q now refers to %q\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit TARGET",
		Short: "Show the audit log of a fact or issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				entries, err := d.Engine.AuditLog(ctx, bookID, args[0])
				if err != nil {
					return fmt.Errorf("reading audit log: %w", err)
				}

				if len(entries) == 0 {
					fmt.Println("No audit entries found.")
					return nil
				}

				for _, e := range entries {
					fmt.Printf("%s  %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Action)
					if len(e.Details) > 0 {
						details, err := json.Marshal(e.Details)
						if err == nil {
							fmt.Printf("  %s", details)
						}
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
)

type issuesFlags struct {
	severity  string
	status    string
	issueType string
}

func newIssuesCmd() *cobra.Command {
	var flags issuesFlags

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List and manage consistency issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssuesList(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.severity, "severity", "", "Filter by severity (critical, warning, suggestion)")
	cmd.Flags().StringVar(&flags.status, "status", "", "Filter by status (open, acknowledged, resolved, dismissed)")
	cmd.Flags().StringVarP(&flags.issueType, "type", "t", "", "Filter by issue type (fact_contradiction, timeline_contradiction, unresolved_thread, implausible_time)")

	cmd.AddCommand(
		newIssuesShowCmd(),
		newIssuesResolveCmd(),
		newIssuesTransitionCmd("ack ID", "Acknowledge an issue", (*services.Engine).AcknowledgeIssue),
		newIssuesTransitionCmd("dismiss ID", "Dismiss an issue as a false positive", (*services.Engine).DismissIssue),
		newIssuesTransitionCmd("reopen ID", "Reopen a closed issue", (*services.Engine).ReopenIssue),
	)

	return cmd
}

func issueFilter(flags issuesFlags) (entities.IssueFilter, error) {
	severity, err := entities.ParseFilter(flags.severity, entities.ParseSeverity)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	status, err := entities.ParseFilter(flags.status, entities.ParseIssueStatus)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	issueType, err := entities.ParseFilter(flags.issueType, entities.ParseIssueType)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	return entities.IssueFilter{Severity: severity, Status: status, Type: issueType}, nil
}

func runIssuesList(cmd *cobra.Command, flags issuesFlags) error {
	filter, err := issueFilter(flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withBook(ctx, func(d *Deps, bookID string) error {
		issues, err := d.Engine.Issues(ctx, bookID, filter)
		if err != nil {
			return fmt.Errorf("listing issues: %w", err)
		}

		if len(issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		fmt.Printf("Showing %d issues:\n\n", len(issues))
		for _, issue := range issues {
			displayIssue(issue)
		}
		return nil
	})
}

func displayIssue(issue entities.ConsistencyIssue) {
	fmt.Printf("ID: %s\n", issue.ID)
	fmt.Printf("  [%s] %s (%s, %s)\n", issue.Severity, issue.Title, issue.Type, issue.Status)
	if issue.Description != "" {
		fmt.Printf("  %s\n", issue.Description)
	}
	for _, loc := range issue.Locations {
		fmt.Printf("  At: %s\n", formatRef(loc))
	}
	fmt.Println()
}

func newIssuesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show an issue in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				issue, err := d.Engine.Issue(ctx, bookID, args[0])
				if err != nil {
					return err
				}
				displayIssueDetail(issue)
				return nil
			})
		},
	}
}

func displayIssueDetail(issue entities.ConsistencyIssue) {
	displayIssue(issue)

	if issue.Subject != "" {
		fmt.Printf("Fact: %s / %s\n", issue.Subject, issue.Attribute)
	}
	if issue.ExpectedValue != "" || issue.FoundValue != "" {
		fmt.Printf("Expected: %s\nFound: %s\n", issue.ExpectedValue, issue.FoundValue)
	}
	for _, loc := range issue.Locations {
		if loc.Excerpt != "" {
			fmt.Printf("Excerpt (%s): %s\n", loc.ChapterID, loc.Excerpt)
		}
	}
	if len(issue.Suggestions) > 0 {
		fmt.Println("Suggestions:")
		for _, s := range issue.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
	}
	if r := issue.Resolution; r != nil {
		fmt.Printf("Resolution: %s", r.Method)
		if r.Notes != "" {
			fmt.Printf(" (%s)", r.Notes)
		}
		fmt.Println()
	}
	if len(issue.Transitions) > 0 {
		fmt.Println("History:")
		for _, t := range issue.Transitions {
			line := fmt.Sprintf("  %s %s -> %s", t.At.Format("2006-01-02 15:04"), t.From, t.To)
			if t.Notes != "" {
				line += ": " + t.Notes
			}
			fmt.Println(line)
		}
	}
}

func newIssuesResolveCmd() *cobra.Command {
	var req services.ResolveRequest
	var method string

	cmd := &cobra.Command{
		Use:   "resolve ID",
		Short: "Resolve an issue",
		Long: strings.TrimSpace(`
Resolves an issue. Methods:
  fixed        the manuscript was corrected
  intentional  the change is deliberate; the new value becomes canonical
  wont_fix     the issue is accepted as is`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Method = entities.ResolutionMethod(method)
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				issue, err := d.Engine.ResolveIssue(ctx, bookID, args[0], req)
				if err != nil {
					return err
				}
				fmt.Printf("Issue %s is now %s\n", issue.ID, issue.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", string(entities.ResolutionFixed), "Resolution method (fixed, intentional, wont_fix)")
	cmd.Flags().StringVarP(&req.Notes, "notes", "n", "", "Resolution notes")
	cmd.Flags().StringVar(&req.Value, "value", "", "Canonical value for an intentional resolution")

	return cmd
}

// issueAction moves an issue to a new status.
type issueAction func(e *services.Engine, ctx context.Context, bookID, issueID, notes string) (entities.ConsistencyIssue, error)

func newIssuesTransitionCmd(use, short string, action issueAction) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withBook(ctx, func(d *Deps, bookID string) error {
				issue, err := action(d.Engine, ctx, bookID, args[0], notes)
				if err != nil {
					return err
				}
				fmt.Printf("Issue %s is now %s\n", issue.ID, issue.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&notes, "notes", "n", "", "Notes recorded with the transition")

	return cmd
}

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/domain/services"
)

type exportFlags struct {
	format   string
	output   string
	category string
	subject  string
}

type exporter struct {
	format string
	output string
}

func newExportCmd() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export facts to file",
		Long:  "Exports the book's active facts to JSON, CSV, or markdown format. JSON and CSV exports are story bibles that 'continuity import' reads back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "json", "Output format (json, csv, markdown)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&flags.category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&flags.subject, "subject", "s", "", "Filter by subject")

	return cmd
}

func runExport(cmd *cobra.Command, flags exportFlags) error {
	if !contains(validFormats, flags.format) {
		return fmt.Errorf("invalid format %q, valid formats: %v", flags.format, validFormats)
	}

	filter, err := factFilter(flags.category, flags.subject)
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
			return fmt.Errorf("no facts found to export")
		}

		e := &exporter{
			format: flags.format,
			output: flags.output,
		}
		return e.export(facts)
	})
}

func (e *exporter) export(facts []entities.StoryFact) (err error) {
	var w io.Writer
	var f *os.File

	if e.output != "" {
		f, err = os.OpenFile(e.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("creating file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing file: %w", cerr)
			}
		}()
		w = f
	} else {
		w = os.Stdout
	}

	if err := e.formatFacts(w, facts); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}

	if e.output != "" {
		fmt.Printf("Exported %d facts to %s\n", len(facts), e.output)
	}

	return nil
}

func (e *exporter) formatFacts(w io.Writer, facts []entities.StoryFact) error {
	switch e.format {
	case "json":
		return formatJSON(w, facts)
	case "csv":
		return formatCSV(w, facts)
	case "markdown":
		return formatMarkdown(w, facts)
	default:
		return fmt.Errorf("unknown format: %s", e.format)
	}
}

// toRecord converts a fact into a story bible record. Facts seeded by an
// earlier import have no chapter.
func toRecord(f entities.StoryFact) ports.ImportRecord {
	chapter := f.EstablishedIn.ChapterID
	if chapter == services.StoryBibleChapter {
		chapter = ""
	}
	return ports.ImportRecord{
		Subject:    f.Subject,
		Attribute:  f.Attribute,
		Value:      f.Value,
		Category:   string(f.Category),
		Importance: string(f.Importance),
		Chapter:    chapter,
		Notes:      f.EstablishedIn.Excerpt,
	}
}

func formatJSON(w io.Writer, facts []entities.StoryFact) error {
	records := make([]ports.ImportRecord, 0, len(facts))
	for _, f := range facts {
		records = append(records, toRecord(f))
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func formatCSV(w io.Writer, facts []entities.StoryFact) error {
	writer := csv.NewWriter(w)

	header := []string{"subject", "attribute", "value", "category", "importance", "chapter", "notes"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, f := range facts {
		r := toRecord(f)
		row := []string{
			r.Subject,
			r.Attribute,
			r.Value,
			r.Category,
			r.Importance,
			r.Chapter,
			r.Notes,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatMarkdown(w io.Writer, facts []entities.StoryFact) error {
	if _, err := fmt.Fprintf(w, "# Story Bible\n\nTotal: %d facts\n\n", len(facts)); err != nil {
		return err
	}

	if _, err := fmt.Fprint(w, "| Category | Subject | Attribute | Value | Established |\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "|----------|---------|-----------|-------|-------------|\n"); err != nil {
		return err
	}

	for _, f := range facts {
		source := f.EstablishedIn.ChapterID
		if len(source) > 30 {
			source = "..." + source[len(source)-27:]
		}
		if _, err := fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n",
			f.Category,
			escapeMarkdown(f.Subject),
			escapeMarkdown(f.Attribute),
			escapeMarkdown(f.Value),
			escapeMarkdown(source),
		); err != nil {
			return err
		}
	}

	return nil
}

func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/infrastructure/config"
)

func newBooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Manage books",
		RunE:  runBooksList,
	}

	cmd.AddCommand(
		newBooksListCmd(),
		newBooksAddCmd(),
		newBooksRemoveCmd(),
	)

	return cmd
}

func newBooksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all books",
		RunE:  runBooksList,
	}
}

func runBooksList(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	books, err := config.LoadBooks(cwd)
	if err != nil {
		return fmt.Errorf("loading books: %w", err)
	}

	if len(books.Books) == 0 {
		fmt.Println("No books registered.")
		fmt.Println("Use 'continuity books add NAME DIR' to register a book.")
		return nil
	}

	fmt.Printf("%-20s %-25s %-30s %s\n", "ID", "TITLE", "DIR", "DESCRIPTION")
	fmt.Printf("%-20s %-25s %-30s %s\n", "--", "-----", "---", "-----------")

	for _, id := range books.IDs() {
		book := books.Books[id]
		fmt.Printf("%-20s %-25s %-30s %s\n", id, book.Title, book.Dir, book.Description)
	}

	return nil
}

func newBooksAddCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add NAME DIR",
		Short: "Register a book and its manuscript directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			id, err := addBook(cwd, args[0], args[1], description)
			if err != nil {
				return err
			}

			fmt.Printf("Registered book %q as %q\n", args[0], id)
			fmt.Printf("Run 'continuity scan --book %s' to build its fact store.\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Book description")

	return cmd
}

// addBook registers a book in the registry of basePath and returns its ID.
// dir must be an existing directory; it is stored relative to basePath when
// it lies inside it.
func addBook(basePath, name, dir, description string) (string, error) {
	if !config.Exists(basePath) {
		return "", fmt.Errorf("continuity not initialized in %s (run 'continuity init' first)", basePath)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return "", fmt.Errorf("accessing manuscript directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", absDir)
	}

	books, err := config.LoadBooks(basePath)
	if err != nil {
		return "", fmt.Errorf("loading books: %w", err)
	}

	id := config.SanitizeBookID(name)
	if books.Exists(id) {
		return "", fmt.Errorf("book %q already exists", id)
	}

	if rel, err := filepath.Rel(basePath, absDir); err == nil && filepath.IsLocal(rel) {
		absDir = rel
	}

	books.Add(name, config.BookEntry{
		Dir:         absDir,
		Description: description,
	})

	if err := books.Save(basePath); err != nil {
		return "", fmt.Errorf("writing books file: %w", err)
	}

	return id, nil
}

func newBooksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Unregister a book",
		Long:  "Removes a book from the registry. Its stored facts and issues are kept and become visible again when the book is registered under the same ID.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}

			if err := removeBook(cwd, args[0]); err != nil {
				return err
			}

			fmt.Printf("Removed book %q\n", args[0])
			return nil
		},
	}
}

func removeBook(basePath, id string) error {
	books, err := config.LoadBooks(basePath)
	if err != nil {
		return fmt.Errorf("loading books: %w", err)
	}

	if !books.Exists(id) {
		return fmt.Errorf("book %q not found", id)
	}

	books.Remove(id)

	if err := books.Save(basePath); err != nil {
		return fmt.Errorf("writing books file: %w", err)
	}

	return nil
}

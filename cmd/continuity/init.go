package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/infrastructure/config"
	"github.com/ersonp/continuity/internal/infrastructure/vectordb/qdrant"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new continuity project",
		Long:  "Creates a .continuity directory with default configuration and an empty book registry. When a Qdrant host is configured through the environment, the fact index collection is created too.",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	// The config file does not exist yet, so only the environment can
	// point at a Qdrant instance.
	envCfg, err := config.Parse(cwd, nil)
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	var collections ports.CollectionManager
	if envCfg.Qdrant.Host != "" {
		repo, err := qdrant.NewRepository(envCfg.Qdrant)
		if err != nil {
			return fmt.Errorf("connecting to qdrant: %w", err)
		}
		defer repo.Close()
		collections = repo
	}

	result, err := handlers.NewInitHandler(collections).Handle(ctx, cwd)
	if err != nil {
		return err
	}

	fmt.Printf("Created %s\n", result.ConfigPath)
	fmt.Printf("Created %s\n", result.BooksPath)
	if result.CollectionName != "" {
		fmt.Printf("Created Qdrant collection: %s\n", result.CollectionName)
	}
	fmt.Println("Continuity initialized successfully!")
	fmt.Println("Use 'continuity books add NAME DIR' to register a manuscript.")

	return nil
}

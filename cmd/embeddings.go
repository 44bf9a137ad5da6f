package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matiz0/matiz/internal/catalog"
	"github.com/matiz0/matiz/internal/config"
	"github.com/matiz0/matiz/internal/database"
	"github.com/matiz0/matiz/internal/genai"
	"github.com/matiz0/matiz/internal/log"
)

func newEmbeddingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Manage catalog embeddings",
	}
	cmd.AddCommand(newEmbeddingsPopulateCmd())
	return cmd
}

func newEmbeddingsPopulateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Generate embeddings for catalog products",
		Long: `Generate vector embeddings for catalog products that have none.

Products without embeddings are invisible to similarity search. Use
--force to regenerate embeddings for the whole catalog, for example
after switching the embedder model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			logger := log.New(log.Config{Level: slog.LevelInfo})

			g, err := genai.NewGenkit(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initializing AI provider: %w", err)
			}
			embedder, err := genai.NewEmbedder(g, cfg)
			if err != nil {
				return fmt.Errorf("initializing embedder: %w", err)
			}

			pool, cleanup, err := database.NewPool(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer cleanup()

			index := catalog.NewIndex(catalog.NewStore(pool), embedder, logger)
			processed, err := index.PopulateEmbeddings(ctx, force)
			if err != nil {
				return fmt.Errorf("populating embeddings (processed %d): %w", processed, err)
			}

			fmt.Printf("embeddings generated for %d products\n", processed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate embeddings for all products")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"klaus/loader/service"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

func init() {
	mustLoadEnvVariables()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := types.ConfigFromEnv()

	root := &cobra.Command{
		Use:   "klaus-kb",
		Short: "Build the knowledge base index the assistant answers from",
	}
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the knowledge base sources")
	root.PersistentFlags().StringVar(&cfg.Persona.SiteBaseURL, "site-url", cfg.Persona.SiteBaseURL, "public site address used in generated links")

	var out string
	build := &cobra.Command{
		Use:   "build",
		Short: "Embed every fact and replace the index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), cfg, out)
		},
	}
	build.Flags().StringVar(&cfg.IndexBackend, "backend", cfg.IndexBackend, "index backend: file or postgres")
	build.Flags().StringVarP(&out, "out", "o", "", "index file path for the file backend (default <data-dir>/"+types.EmbeddingIndex+")")
	build.Flags().StringVar(&cfg.LLM.Provider, "provider", cfg.LLM.Provider, "embedding provider: gemini or ollama")

	collect := &cobra.Command{
		Use:   "collect",
		Short: "Print the facts a build would embed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			facts, err := service.New(cfg.DataDir, cfg.Persona.SiteBaseURL, nil, nil).Collect()
			if err != nil {
				return err
			}
			for _, f := range facts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f.ID, f.Text)
			}
			return nil
		},
	}

	root.AddCommand(build, collect)
	return root
}

func runBuild(ctx context.Context, cfg types.Config, out string) error {
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		if cfg.LLM.APIKey == "" {
			return errors.New("GEMINI_API_KEY missing")
		}
	}
	embedder, err := model.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	var index store.IndexStorer
	switch cfg.IndexBackend {
	case "postgres":
		pool, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		defer func() {
			log.Println("Closing database connection pool...")
			if err := pool.Close(); err != nil {
				log.Printf("error closing pool: %v\n", err)
			}
		}()
		if err := pool.Init(ctx); err != nil {
			return fmt.Errorf("error to create tables: %w", err)
		}
		index = pool
	case "", "file":
		if out == "" {
			out = filepath.Join(cfg.DataDir, types.EmbeddingIndex)
		}
		index = store.NewFileIndex(out)
	default:
		return fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}

	report, err := service.New(cfg.DataDir, cfg.Persona.SiteBaseURL, embedder, index).Build(ctx)
	if err != nil {
		return err
	}
	log.Printf("Wrote %d facts (dimension %d) in %v", report.Facts, report.Dimension, report.Took)
	return nil
}

func mustLoadEnvVariables() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal("Error loading .env file")
	}
}

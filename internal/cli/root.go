// Package cli provides the command-line interface for stepflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/stepflow/internal/config"
	"github.com/raphaelgruber/stepflow/internal/db"
	"github.com/raphaelgruber/stepflow/internal/llm"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg      config.Config
	dbClient *db.Client

	// Lazy-initialized LLM model
	model *llm.Model
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Guided process bot administration",
	Long: `Stepflow drives users through authored step-by-step processes over chat.

This CLI manages the process definitions behind the bot: create them from
YAML, edit and reorder steps, regenerate a process with AI, and export the
answers users gave. The chat subcommand connects to a running bot as a
terminal client.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version, help and the chat client
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "chat" {
			cfg = config.Load()
			return nil
		}

		cfg = config.Load()

		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
	},
}

// getModel initializes the LLM model on first use. Only the regenerate
// command needs it; everything else must work without a provider.
func getModel(ctx context.Context) (*llm.Model, error) {
	if model == nil {
		var err error
		model, err = llm.NewModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
	}
	return model, nil
}

// cliLogger returns a logger for command internals, debug-level with -v.
func cliLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(answersCmd)
	rootCmd.AddCommand(chatCmd)
}

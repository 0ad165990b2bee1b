package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the enroll, verify and scan commands
type Options struct {
	InputPath          string
	Width              int
	Height             int
	Rotation           int
	Box                string
	SessionID          string
	NthFrame           int
	NumEngines         int
	GracePeriod        string
	BlipDuration       string
	DetectionThreshold float64
	NoPublish          bool
}

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is loaded from FACEGATE_* variables before any command runs
	Cfg *config.Config
	// Logger is the structured logger built from Cfg
	Logger *slog.Logger
	// dbURL overrides Cfg.DatabaseURL
	dbURL string
	// engineKind overrides Cfg.EngineKind
	engineKind string
)

// Version is the application version.
const Version = "0.1.0"

// noDB marks commands that never touch PostgreSQL.
const noDB = "nodb"

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Face enrollment, verification and live overlay pipeline",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load()
		if err != nil {
			return err
		}
		if dbURL != "" {
			Cfg.DatabaseURL = dbURL
		}
		if engineKind != "" {
			Cfg.EngineKind = engineKind
			if err := Cfg.Validate(); err != nil {
				return err
			}
		}
		Logger = config.NewLogger(Cfg)

		if _, skip := cmd.Annotations[noDB]; skip {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL, Cfg.EmbeddingDim)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: $FACEGATE_DATABASE_URL or postgres://localhost:5432/facegate)")
	rootCmd.PersistentFlags().StringVar(&engineKind, "engine", "", "Embedding engine: onnx, worker or hash (default: $FACEGATE_ENGINE)")
}

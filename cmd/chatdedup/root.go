package main

import (
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
	errs "github.com/edgard/chatdedup/internal/errors"
	"github.com/edgard/chatdedup/internal/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatdedup",
		Short:         "Ingest and deduplicate WhatsApp chat exports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "./config.yaml", "Path to configuration file")
	flags.String("db", "", "Database DSN (file path for sqlite); overrides database.dsn")
	flags.String("db-driver", "", "Database driver: sqlite or postgres; overrides database.driver")
	flags.String("log-level", "", "Log level: debug, info, warn or error; overrides logger.level")

	cmd.AddCommand(
		newIngestCmd(),
		newServeCmd(),
		newStatsCmd(),
		newRunsCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// app bundles what every subcommand needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	db    *sqlx.DB
	store database.Store
}

func (a *app) Close() {
	database.CloseDB(a.db)
}

// setup loads configuration, initializes logging and opens the database,
// applying migrations.
func setup(cmd *cobra.Command) (*app, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, errs.NewConfigError("failed to read --config flag", err)
	}

	cfg, err := config.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	// Command results go to stdout; keep logs off it.
	log := logger.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logger.Level, cfg.Logger.JSON)
	log.Debug("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "driver", cfg.Database.Driver, "error", err)
		return nil, errs.NewDatabaseError("failed to open database", err)
	}

	return &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		store: database.NewStore(db, log),
	}, nil
}

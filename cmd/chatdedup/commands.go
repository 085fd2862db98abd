package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/spf13/cobra"

	"github.com/edgard/chatdedup/internal/bot"
	"github.com/edgard/chatdedup/internal/bot/handlers"
	"github.com/edgard/chatdedup/internal/bot/tasks"
	"github.com/edgard/chatdedup/internal/ingest"
	"github.com/edgard/chatdedup/internal/logger"
	"github.com/edgard/chatdedup/internal/telegram"
)

func newIngestCmd() *cobra.Command {
	var sinceFlag string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest one or more exported chat files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := ingest.ParseSince(sinceFlag)
			if err != nil {
				return err
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := ingest.NewEngine(a.store, ingest.OptionsFromConfig(a.cfg.Ingest), a.log)
			out := cmd.OutOrStdout()

			var failed []error
			for _, path := range args {
				res, err := engine.IngestFile(cmd.Context(), path, since)
				if err != nil {
					a.log.Error("Failed to ingest file", "file", path, "error", err)
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(out, "%s: conversation=%q parsed=%d inserted=%d skipped=%d run=%s\n",
					path, res.ConversationName, res.Parsed, res.Inserted, res.Skipped, res.RunID)
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().StringVar(&sinceFlag, "since", "", "Only ingest messages after this time (YYYY-MM-DD or ISO 8601)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram upload bot and scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			log := a.log
			engine := ingest.NewEngine(a.store, ingest.OptionsFromConfig(a.cfg.Ingest), log)

			var tg *tgbot.Bot
			if a.cfg.Telegram.Enabled {
				hDeps := handlers.HandlerDeps{
					Logger:   log,
					Config:   a.cfg,
					Store:    a.store,
					Ingester: engine,
				}
				tg, err = telegram.NewTelegramBot(a.cfg.Telegram.Token, log,
					tgbot.WithMiddlewares(logger.Middleware(log)))
				if err != nil {
					return err
				}

				a.cfg.Telegram.BotInfo, err = telegram.FetchBotInfo(ctx, tg)
				if err != nil {
					return err
				}
				log.Info("Retrieved bot info", "bot_id", a.cfg.Telegram.BotInfo.ID, "bot_username", a.cfg.Telegram.BotInfo.Username)

				if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
					return err
				}
			}

			taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
				Logger:   log,
				Store:    a.store,
				Ingester: engine,
				Config:   a.cfg,
			})
			sched, err := bot.NewScheduler(log, &a.cfg.Scheduler, taskMap)
			if err != nil {
				return err
			}

			return bot.NewBot(log, a.cfg, a.store, tg, sched).Run(ctx)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "conversations\t%d\n", stats.Conversations)
			fmt.Fprintf(w, "participants\t%d\n", stats.Participants)
			fmt.Fprintf(w, "messages\t%d\n", stats.Messages)
			fmt.Fprintf(w, "canonical_messages\t%d\n", stats.CanonicalMessages)
			fmt.Fprintf(w, "ingest_runs\t%d\n", stats.IngestRuns)
			return w.Flush()
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.RecentIngestRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCONVERSATION\tSOURCE\tSINCE\tPARSED\tINSERTED\tSKIPPED\tRUN")
			for _, run := range runs {
				since := "-"
				if run.Since.Valid {
					since = run.Since.Time.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					run.StartedAt.Format(time.RFC3339), run.ConversationName, run.Source, since,
					run.Parsed, run.Inserted, run.Skipped, run.ID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

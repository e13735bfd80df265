// Hal is a ticket lifecycle orchestrator. It keeps a kanban board honest
// while AI agents do the work: a planning agent turns conversation into
// well-formed tickets, and run signals from implementation and QA agents
// move tickets through the pipeline automatically.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	hal "github.com/beardedphil/portfolio-2026-hal-sub011"
	"github.com/beardedphil/portfolio-2026-hal-sub011/agent/anthropic"
	"github.com/beardedphil/portfolio-2026-hal-sub011/internal/db"
	"github.com/beardedphil/portfolio-2026-hal-sub011/internal/web"
	"github.com/beardedphil/portfolio-2026-hal-sub011/ticket"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var (
	dbPath string
	repoID string
)

func main() {
	root := &cobra.Command{
		Use:          "hal",
		Short:        "Ticket lifecycle orchestrator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "hal.db", "SQLite database path")
	root.PersistentFlags().StringVar(&repoID, "repo", "default", "Repository id")

	root.AddCommand(serveCmd(), boardCmd(), checkCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func openStore() (*db.DB, *db.Store, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, db.NewStore(database), nil
}

func serveCmd() *cobra.Command {
	var (
		addr    string
		model   string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board API, SSE stream and planning chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)

			database, store, err := openStore()
			if err != nil {
				return err
			}
			defer database.Close()

			// The server is created after the mover, so the resync hook
			// closes over the variable.
			var server *web.Server
			resync := func() {
				if server != nil {
					server.Broadcast("board")
				}
			}

			mover := hal.NewMover(store, resync, logger)
			auto := hal.NewAutoMover(store, mover, logger)
			dispatcher := hal.NewDispatcher(store, mover, auto, logger)

			config := hal.DefaultConfig()
			config.Model = model

			client := anthropic.NewClientFromEnv()
			var planner *hal.Planner
			if client.Available() {
				summarizer := hal.NewMemorySummarizer(client, model)
				contexts := hal.NewContextManager(store, summarizer, config.ContextTurns, config.MemoryBatch, logger)
				planner = hal.NewPlanner(client, dispatcher, contexts, config, logger)
			} else {
				logger.Warn("ANTHROPIC_API_KEY not set; planning chat disabled, board API only")
			}

			server = web.NewServer(store, mover, planner, client, logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(addr) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&model, "model", "", "Completion model (provider default when empty)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Debug logging")
	return cmd
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Print the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, store, err := openStore()
			if err != nil {
				return err
			}
			defer database.Close()

			tickets, err := store.ListTickets(repoID)
			if err != nil {
				return fmt.Errorf("failed to list tickets: %w", err)
			}

			byColumn := make(map[ticket.Column][]ticket.Ticket)
			for _, t := range tickets {
				byColumn[t.Column] = append(byColumn[t.Column], t)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Title", "Column", "Pos", "Moved"})
			for _, col := range ticket.Columns {
				for _, t := range byColumn[col] {
					moved := ""
					if !t.MovedAt.IsZero() {
						moved = t.MovedAt.Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{t.DisplayID(), t.Title, t.Column, t.Position, moved})
				}
			}
			tw.SetStyle(table.StyleLight)
			tw.Render()
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <ticket.md>",
		Short: "Evaluate a ticket body file against the readiness checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			result := ticket.EvaluateReadiness(ticket.Normalize(string(raw)))
			for _, item := range result.Checklist {
				mark := "ok"
				if !item.Passed {
					mark = "FAIL"
				}
				fmt.Printf("[%s] %s", mark, item.Section)
				if item.Detail != "" {
					fmt.Printf(": %s", item.Detail)
				}
				fmt.Println()
			}
			if !result.Ready {
				return fmt.Errorf("ticket is not ready: %d item(s) missing", len(result.MissingItems))
			}
			fmt.Println("ticket is ready")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hal %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/internal/mcp"
	"github.com/ldi/tend/internal/scheduler"
	"github.com/ldi/tend/internal/server"
	"github.com/ldi/tend/internal/ui/components"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a tend workspace in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetDir := "."
			if len(args) > 0 {
				targetDir = args[0]
			}
			out := cmd.OutOrStdout()

			tendDir := filepath.Join(targetDir, ".tend")
			if err := os.MkdirAll(tendDir, 0755); err != nil {
				return fmt.Errorf("failed to create .tend directory: %w", err)
			}
			fmt.Fprintln(out, "✓ Created .tend/ directory")

			gitignorePath := filepath.Join(tendDir, ".gitignore")
			if err := os.WriteFile(gitignorePath, []byte("tend.db*\n"), 0644); err != nil {
				return fmt.Errorf("failed to create .gitignore: %w", err)
			}
			fmt.Fprintln(out, "✓ Created .tend/.gitignore")

			configPath := filepath.Join(targetDir, "tend.yaml")
			if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
				if err := a.cfg.SaveToFile(configPath); err != nil {
					return fmt.Errorf("failed to write tend.yaml: %w", err)
				}
				fmt.Fprintln(out, "✓ Wrote tend.yaml")
			}

			if a.dbPath == "" && !filepath.IsAbs(a.cfg.Database.Path) {
				a.cfg.Database.Path = filepath.Join(targetDir, a.cfg.Database.Path)
			}
			if !filepath.IsAbs(a.cfg.Database.SnapshotPath) {
				a.cfg.Database.SnapshotPath = filepath.Join(targetDir, a.cfg.Database.SnapshotPath)
			}

			// The snapshot is the source being restored, so it must not be
			// rewritten while it is read.
			autoSnapshot := a.cfg.Database.AutoSnapshot
			a.cfg.Database.AutoSnapshot = false
			defer func() { a.cfg.Database.AutoSnapshot = autoSnapshot }()

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintf(out, "✓ Initialized database at %s\n", a.cfg.Database.Path)

			if _, err := os.Stat(a.cfg.Database.SnapshotPath); err == nil {
				if err := rt.db.ImportSnapshot(ctx, a.cfg.Database.SnapshotPath); err != nil {
					return fmt.Errorf("failed to import snapshot: %w", err)
				}
				fmt.Fprintf(out, "✓ Imported snapshot from %s\n", a.cfg.Database.SnapshotPath)
			}

			fmt.Fprintln(out, "✓ tend initialized successfully")
			return nil
		},
	}
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		all bool
		at  string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the daily sweep now",
		Long:  "Resets the streaks of habits whose grace period has passed and surfaces someday tasks left alone for too long. Running it twice in a day changes nothing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				t, err := a.parseWhen(at)
				if err != nil {
					return err
				}
				when = t
			}

			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			var (
				results  []*lifecycle.SweepResult
				sweepErr error
			)
			if all {
				results, sweepErr = rt.coord.SweepAll(ctx, when)
			} else {
				var res *lifecycle.SweepResult
				res, sweepErr = rt.coord.RunDailySweep(ctx, a.cfg.Owner, when)
				if res != nil {
					results = append(results, res)
				}
			}

			names, err := taskNames(ctx, rt.db)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Fprintln(cmd.OutOrStdout(), components.NewSweepReport(res, names, 60).View())
			}
			return sweepErr
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Sweep every owner")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate as of this time (defaults to now)")
	return cmd
}

func taskNames(ctx context.Context, database *db.DB) (map[string]string, error) {
	tasks, err := database.ListTasks(ctx, db.TaskFilter{})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(tasks))
	for _, t := range tasks {
		names[t.ID] = t.Title
	}
	return names, nil
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled daily sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := a.open(ctx, openOptions{Metrics: true, Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			sched, err := scheduler.New(a.cfg.Sweep.Schedule, rt.coord, scheduler.Options{
				Location: a.cfg.Location(),
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			srv := server.NewServer(rt.coord, rt.db, server.Options{
				Metrics: rt.metrics.Handler(),
				Logger:  a.logger,
				Owner:   a.cfg.Owner,
			})
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addr)
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (next sweep %s)\n", addr, a.formatTime(sched.Next()))

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.open(cmd.Context(), openOptions{Publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			s := mcp.NewServer(rt.coord, rt.db, mcp.Options{Owner: a.cfg.Owner, Version: version})
			return mcp.Serve(s)
		},
	}
}

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import a JSONL snapshot",
	}

	pathArg := func(args []string) string {
		if len(args) > 0 {
			return args[0]
		}
		return a.cfg.Database.SnapshotPath
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [path]",
		Short: "Write every task, recurrence and completion to a snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			path := pathArg(args)
			if err := rt.db.ExportSnapshot(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [path]",
		Short: "Merge a snapshot into the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.cfg.Database.AutoSnapshot = false
			rt, err := a.open(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			path := pathArg(args)
			if err := rt.db.ImportSnapshot(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported snapshot from %s\n", path)
			return nil
		},
	})
	return cmd
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ldi/tend/internal/config"
	"github.com/ldi/tend/internal/db"
	"github.com/ldi/tend/internal/engine"
	"github.com/ldi/tend/internal/events"
	"github.com/ldi/tend/internal/lifecycle"
	"github.com/ldi/tend/internal/metrics"
	"github.com/ldi/tend/internal/ui"
)

// Set with -ldflags "-X main.version=..." at build time.
var version = "dev"

// runMenu is replaced in tests.
var runMenu = ui.RunMenu

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	logLevel   string
	dbPath     string
	owner      string
	noSnapshot bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tend",
		Short: "Tasks, habits and someday ideas that look after themselves",
		Long: `tend keeps a tree of tasks, repeating chores and habits.

Completing a recurring task creates its next occurrence, completing the last
open child completes the parent, habits keep a streak with a one day grace
period, and tasks without a date come back as a nudge when left alone.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := runMenu()
			if err != nil {
				return fmt.Errorf("failed to run menu: %w", err)
			}
			if selected == "" {
				return nil
			}
			sub, _, err := cmd.Find([]string{selected})
			if err != nil || sub == cmd {
				return fmt.Errorf("unknown command: %s", selected)
			}
			sub.SetContext(cmd.Context())
			return sub.RunE(sub, nil)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.dbPath, "db-path", "", "Path to database file (overrides config)")
	flags.StringVar(&a.owner, "owner", "", "Owner to act as (overrides config)")
	flags.BoolVar(&a.noSnapshot, "no-snapshot", false, "Do not export a snapshot after writes")

	root.AddCommand(
		a.initCmd(),
		a.addCmd(),
		a.completeCmd(),
		a.uncompleteCmd(),
		a.setStatusCmd(),
		a.parentCmd(),
		a.snoozeCmd(),
		a.listCmd(),
		a.statusCmd(),
		a.sweepCmd(),
		a.serveCmd(),
		a.mcpCmd(),
		a.snapshotCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "tend version %s\n", version)
			},
		},
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.logger = newLogger(a.logLevel, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)

	cfg, err := config.NewLoader(a.logger).Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.owner != "" {
		cfg.Owner = a.owner
	}
	if a.noSnapshot {
		cfg.Database.AutoSnapshot = false
	}
	a.cfg = cfg
	return nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// runtime is everything a command needs to act on the task store.
type runtime struct {
	db      *db.DB
	coord   *lifecycle.Coordinator
	metrics *metrics.Observer
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

type openOptions struct {
	// Metrics attaches a Prometheus observer to the coordinator.
	Metrics bool
	// Publish connects to NATS when the config names a server.
	Publish bool
}

func (a *app) open(ctx context.Context, opts openOptions) (*runtime, error) {
	database, err := db.Open(a.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	rt := &runtime{db: database}
	rt.closers = append(rt.closers, func() { database.Close() })

	if err := database.Init(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if a.cfg.Database.AutoSnapshot {
		path := a.cfg.Database.SnapshotPath
		database.EnableAutoSnapshot(path, func(err error) {
			a.logger.Error("Failed to export snapshot", slog.String("path", path), slog.String("error", err.Error()))
		})
	}

	sinks := events.MultiSink{events.NewLogSink(a.logger.With(slog.String("component", "intents")))}
	if opts.Publish && a.cfg.NATS.URL != "" {
		nc, err := events.Connect(a.cfg.NATS.URL, "tend")
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() {
			if err := nc.Drain(); err != nil {
				a.logger.Warn("Failed to drain NATS connection", slog.String("error", err.Error()))
			}
		})
		sinks = append(sinks, events.NewNATSSink(nc, a.cfg.NATS.SubjectPrefix))
	}

	loc := a.cfg.Location()
	coordOpts := lifecycle.Options{
		Sink:     sinks,
		Clock:    engine.RealClock{Location: loc},
		Location: loc,
		Logger:   a.logger,
		Workers:  a.cfg.Sweep.Workers,
	}
	if opts.Metrics {
		rt.metrics = metrics.New()
		coordOpts.Observer = rt.metrics
	}
	rt.coord = lifecycle.New(database, coordOpts)
	return rt, nil
}

// parseWhen accepts RFC 3339, or a local date with optional time in the
// configured zone.
func (a *app) parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	loc := a.cfg.Location()
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q: use RFC 3339 or YYYY-MM-DD[THH:MM]", s)
}

func (a *app) formatTime(t time.Time) string {
	return t.In(a.cfg.Location()).Format("Mon Jan 2 15:04")
}

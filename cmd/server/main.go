/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental engine. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve   Run the HTTP API and the in-process sweep scheduler
  sweep   Run one sweep and exit (for an external cron/systemd timer)

STARTUP SEQUENCE (serve):
  1. Load .env and environment, apply flag overrides
  2. Initialize logger and SQLite store
  3. Wire notifiers (log + inbox, plus email if SMTP is configured)
  4. Create rental service, API handler, router
  5. Start sweep scheduler and HTTP server with graceful shutdown

FLAGS (override environment):
  --db            SQLite database path, ":memory:" for in-memory (DB_PATH)
  --log-level     debug|info|warn|error (LOG_LEVEL)
  --log-format    text|json (LOG_FORMAT)
  --env-file      Load this file instead of ./.env
  --port          HTTP server port (PORT, serve only)
  --sweep-schedule  cron spec (SWEEP_SCHEDULE, serve only)
  --no-sweep      Disable the in-process scheduler (serve only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server serve --db=./data/rental.db
  ./server serve --db=":memory:" --port=3000 --sweep-schedule="@every 1m"
  ./server sweep --db=./data/rental.db

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/store/sqlite"
)

type rootFlags struct {
	envFile   string
	dbPath    string
	logLevel  string
	logFormat string
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "rental-engine",
		Short:         "Rental lifecycle and recurring payment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "env file to load instead of ./.env")
	rootCmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format (text|json)")

	rootCmd.AddCommand(serveCmd(flags), sweepCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads env files and environment, then applies root flags.
func (f *rootFlags) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f.envFile != "" {
		cfg, err = config.Load(f.envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	return cfg, nil
}

// app is everything both commands need.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	store   *sqlite.Store
	inbox   *notify.Inbox
	service *rental.Service
}

func newApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	inbox := notify.NewInbox(store, logger)
	notifiers := notify.Fanout{
		&notify.Log{Logger: logger.WithField("component", "notify")},
		inbox,
	}
	if cfg.SMTP.Enabled() {
		notifiers = append(notifiers, notify.NewEmail(cfg.SMTP, logger.WithField("component", "email")))
		logger.WithField("smtp_host", cfg.SMTP.Host).Info("email notifications enabled")
	}

	return &app{
		cfg:     cfg,
		log:     logger,
		store:   store,
		inbox:   inbox,
		service: rental.NewService(store, notifiers, logger),
	}, nil
}

func serveCmd(flags *rootFlags) *cobra.Command {
	var (
		port          int
		sweepSchedule string
		noSweep       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("sweep-schedule") {
				cfg.SweepSchedule = sweepSchedule
			}
			if noSweep {
				cfg.SweepEnabled = false
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.store.Close()
			return a.serve()
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	cmd.Flags().StringVar(&sweepSchedule, "sweep-schedule", "", "cron spec for the in-process sweep")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the in-process sweep scheduler")
	return cmd
}

func (a *app) serve() error {
	handler := api.NewHandler(a.service, a.inbox, a.store, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.CORSOrigins,
		AccessLog:      a.cfg.LogLevel == "debug",
		Operators:      a.cfg.OperatorIDs,
	})

	scheduler := api.NewSweepScheduler(a.service, a.cfg.SweepSchedule, a.log)
	scheduler.Enabled = a.cfg.SweepEnabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"port": a.cfg.Port,
			"db":   a.cfg.DBPath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
	}

	a.log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info("server stopped")
	return nil
}

func sweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			// One-shot runs never schedule.
			cfg.SweepEnabled = false

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.store.Close()

			report := a.service.RunSweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(),
				"overdue=%d auto_accepted=%d skipped=%d reminders=%d expired=%d renewed=%d errors=%d\n",
				report.MarkedOverdue, report.AutoAccepted, report.Skipped,
				report.RemindersSent, report.Expired, report.Renewed, len(report.Errors))
			if len(report.Errors) > 0 {
				for _, e := range report.Errors {
					a.log.WithField("step", e.Step).WithField("record_id", e.RecordID).Error(e.Err)
				}
				return fmt.Errorf("sweep finished with %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
}

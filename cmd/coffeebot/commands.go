package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"coffeebot/internal/config"
	"coffeebot/internal/database"
	"coffeebot/internal/handler"
	"coffeebot/internal/logger"
	"coffeebot/internal/middleware"
	"coffeebot/internal/scheduler"
	"coffeebot/internal/tracing"
	"coffeebot/internal/validation"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run trigger and inbound message webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		Version:     version,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shut down tracing", "error", err)
		}
	}()

	h := handler.NewHandler(a.svc, handler.NewHandlerOptions{
		RunSecret:    cfg.Matching.RunSecret,
		WebhookToken: cfg.Zulip.WebhookToken,
		MaxBodySize:  cfg.Server.MaxRequestBodySize,
		Logger:       log,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware())

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Secret"},
		MaxAge:         300,
	}))

	h.Routes(r)

	if cfg.Matching.Schedule != "" {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		sched, err := scheduler.New(cfg.Matching.Schedule, loc, a.svc.Run, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
		log.Info("matching scheduled", "schedule", cfg.Matching.Schedule, "next", sched.Next())
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr, "database", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error closing server", "error", err)
	}
	h.WaitForRuns()
	return nil
}

func newRunCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one matching round now and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.svc.Run(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func newSetDaysCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-days <email> <days>",
		Short: "Set the weekdays a user is matched on, e.g. set-days ada@example.com 135",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := validation.SanitizeString(args[0])
			if err := validation.ValidateEmail(email, "email"); err != nil {
				return err
			}
			days, err := validation.ParseDays(args[1])
			if err != nil {
				return err
			}

			db, log, err := openDatabase(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer db.Close()

			if err := db.SetPreference(cmd.Context(), email, days); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s will be matched on %s\n", email, days.Describe())
			return nil
		},
	}
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, log, err := openDatabase(*configFile)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer db.Close()

			schemaVersion, dirty, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", schemaVersion, dirty)
			return nil
		},
	}
}

// openDatabase opens only the store. It does not require the chat
// credentials that the matching commands need.
func openDatabase(configFile string) (*database.DB, *logger.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	db, err := database.NewDB(cfg.Database.Path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, log, nil
}

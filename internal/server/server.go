// Package server assembles the Fiber application and the background job
// runner around the wired routes.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sharevest/sharevest/internal/config"
	"github.com/sharevest/sharevest/internal/jobs"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	runner *jobs.Runner
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, m *metrics.Set, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	svcs, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Metrics: m, Logger: logger})
	if err != nil {
		return nil, err
	}

	jobsCfg := jobs.DefaultConfig()
	if cfg.SweepInterval > 0 {
		jobsCfg.InstallmentInterval = cfg.SweepInterval
	}
	runner := jobs.NewRunner(svcs.Plans, svcs.Offers, cache, jobsCfg, logger)

	return &Server{app: app, cfg: cfg, runner: runner}, nil
}

// StartJobs launches the background sweeps. They stop when ctx is cancelled.
func (s *Server) StartJobs(ctx context.Context) {
	s.runner.Start(ctx)
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

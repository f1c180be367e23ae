package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/noah-isme/tracker-closure/internal/repository"
	"github.com/noah-isme/tracker-closure/internal/service"
	"github.com/noah-isme/tracker-closure/pkg/cache"
	"github.com/noah-isme/tracker-closure/pkg/config"
	"github.com/noah-isme/tracker-closure/pkg/database"
	"github.com/noah-isme/tracker-closure/pkg/export"
	"github.com/noah-isme/tracker-closure/pkg/logger"
	"github.com/noah-isme/tracker-closure/pkg/storage"
)

// app holds the collaborators shared by the CLI and the HTTP API.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *service.MetricsService
	closures *service.ClosePatientsService
	runs     *service.ClosureRunService
	closers  []func() error
}

type appOptions struct {
	// Printer receives previewed payloads; nil keeps them in the log only.
	Printer io.Writer
	// AutoReport names reports after queued run ids.
	AutoReport bool
}

func newApp(ctx context.Context, cfg *config.Config, logr *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logr, metrics: service.NewMetricsService()}

	tracker, err := repository.NewTrackerRepository(repository.TrackerConfig{
		BaseURL:     cfg.Tracker.URL,
		Username:    cfg.Tracker.Username,
		Password:    cfg.Tracker.Password,
		Timeout:     cfg.Tracker.Timeout,
		FixOrgUnits: cfg.Tracker.FixOrgUnits,
		LookupChunk: cfg.Tracker.LookupChunk,
	}, nil, logr)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewLocalStorage(cfg.Reports.Dir)
	if err != nil {
		return nil, err
	}
	renderer, err := export.NewRenderer(cfg.Reports.Format)
	if err != nil {
		return nil, err
	}

	deps := service.ClosePatientsDeps{
		Reports: service.NewReportExportService(store, renderer, logr),
		Metrics: a.metrics,
		Printer: opts.Printer,
	}
	if cfg.Lock.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		deps.Locker = service.NewRunLockService(repository.NewLockRepository(client, logr), cfg.Lock.TTL, logr)
	}
	a.closures = service.NewClosePatientsService(tracker, deps, logr)

	runCfg := service.ClosureRunServiceConfig{AutoReport: opts.AutoReport}
	if !cfg.History.Enabled {
		a.runs = service.NewClosureRunService(a.closures, nil, nil, runCfg, logr)
		return a, nil
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.runs = service.NewClosureRunService(a.closures, repository.NewClosureRunRepository(db), nil, runCfg, logr)
	return a, nil
}

// Close releases connections opened by newApp.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}

// flushMetrics writes the metrics textfile when one is configured.
func (a *app) flushMetrics() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("failed to write metrics textfile", zap.Error(err))
	}
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

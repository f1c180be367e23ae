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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tracker-closure/api/swagger"
	"github.com/noah-isme/tracker-closure/internal/handler"
	"github.com/noah-isme/tracker-closure/internal/middleware"
	"github.com/noah-isme/tracker-closure/pkg/config"
	"github.com/noah-isme/tracker-closure/pkg/jobs"
	"github.com/noah-isme/tracker-closure/pkg/logger"
	corsmiddleware "github.com/noah-isme/tracker-closure/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tracker-closure/pkg/middleware/requestid"
)

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the closure HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logr, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck
			if port > 0 {
				cfg.Port = port
			}
			return runServer(cmd.Context(), cfg, logr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PORT)")
	return cmd
}

func runServer(parent context.Context, cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logr, appOptions{AutoReport: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logr.Warn("shutdown", zap.Error(err))
		}
	}()

	// Workers run on their own context, cancelled only once the queue stopped.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	queue := jobs.NewQueue("closures", a.runs.Handle, jobs.QueueConfig{
		Workers:    cfg.Worker.Concurrency,
		MaxRetries: cfg.Worker.Retries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	if cfg.History.Enabled {
		a.runs.SetQueue(queue)
		queue.Start(workerCtx)
		a.runs.RecoverPending(ctx)
	} else {
		logr.Warn("run history disabled, POST /closures will be rejected")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, a, queue),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logr.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logr.Warn("queue shutdown", zap.Error(err))
	}
	return nil
}

func newRouter(cfg *config.Config, logr *zap.Logger, a *app, queue *jobs.Queue) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics, "/metrics"))

	metricsHandler := handler.NewMetricsHandler(a.metrics, queue, version)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	closures := handler.NewClosureHandler(a.runs)
	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	api.GET("/closures", closures.List)
	api.POST("/closures", closures.Submit)
	api.POST("/closures/preview", closures.Preview)
	api.GET("/closures/:id", closures.Get)

	return r
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	commonmw "codeexec/internal/common/http/middleware"
	"codeexec/internal/execution/admission"
	"codeexec/internal/execution/controller"
	"codeexec/internal/execution/language"
	"codeexec/internal/execution/sandbox"
	"codeexec/internal/execution/sandbox/engine"
	"codeexec/internal/execution/sandbox/observer"
	"codeexec/internal/execution/service"
	"codeexec/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), appCfg)
	},
}

// buildService wires the execution pipeline from config.
func buildService(cfg *AppConfig, metrics observer.MetricsRecorder) (*service.Service, error) {
	overrides, err := cfg.languageOverrides()
	if err != nil {
		return nil, err
	}
	registry, err := language.NewDefaultRegistry(overrides)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(cfg.toEngineConfig())
	if err != nil {
		return nil, err
	}
	sandboxes, err := sandbox.NewManager(cfg.Execution.WorkRoot, eng, sandbox.WithOwner(cfg.Sandbox.RunAs.UID, cfg.Sandbox.RunAs.GID))
	if err != nil {
		return nil, err
	}
	gate, err := admission.NewGate(admission.Config{
		Capacity: cfg.Execution.MaxConcurrent,
		Mode:     admission.Mode(cfg.Execution.Admission.Mode),
		MaxWait:  cfg.Execution.Admission.MaxWait,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}
	return service.NewService(service.Config{
		Registry:       registry,
		Engine:         eng,
		Sandboxes:      sandboxes,
		Gate:           gate,
		Metrics:        metrics,
		DefaultLimits:  cfg.Limits,
		MaxLimits:      cfg.Maxima,
		SetupLimits:    cfg.Execution.SetupLimits,
		DefaultTimeout: cfg.Execution.DefaultTimeout,
		MaxTimeout:     cfg.Execution.MaxTimeout,
		OutputLimit:    cfg.Execution.OutputLimit,
		MaxCodeBytes:   cfg.Execution.MaxCodeBytes,
	})
}

func newMetricsRegistry() (*prometheus.Registry, *observer.PrometheusRecorder, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := observer.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	return reg, recorder, nil
}

func runServe(ctx context.Context, cfg *AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reg, recorder, err := newMetricsRegistry()
	if err != nil {
		logger.Error(ctx, "init metrics failed", zap.Error(err))
		return err
	}
	svc, err := buildService(cfg, recorder)
	if err != nil {
		logger.Error(ctx, "init execution service failed", zap.Error(err))
		return err
	}

	httpServer := buildHTTPServer(cfg.Server, svc, reg)
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "code-exec http server started",
			zap.String("addr", listener.Addr().String()),
			zap.Int64("max_concurrent", cfg.Execution.MaxConcurrent),
			zap.Strings("languages", languageIDs(svc.Languages())),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
			serveErr = err
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	// In-flight executions finish or hit their own deadline inside the shutdown window.
	timeoutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return serveErr
}

func buildHTTPServer(cfg ServerConfig, svc *service.Service, reg *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(commonmw.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	limiter := commonmw.NewClientRateLimiter(commonmw.RateLimitPolicy{
		RPS:   cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	})
	controller.NewExecuteController(svc).RegisterRoutes(router, commonmw.RateLimitMiddleware(limiter))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	var handler http.Handler = router
	if cfg.Gzip {
		handler = gzhttp.GzipHandler(router)
	}

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func languageIDs(specs []language.LanguageSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	return ids
}

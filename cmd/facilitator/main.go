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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	deferred "github.com/vitwit/x402-deferred"
	"github.com/vitwit/x402-deferred/internal/config"
	"github.com/vitwit/x402-deferred/internal/server"
	"github.com/vitwit/x402-deferred/internal/telemetry"
	"github.com/vitwit/x402-deferred/logger"
	"github.com/vitwit/x402-deferred/metrics"
)

func main() {
	boot, _ := zap.NewProduction()
	defer boot.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("config load failed", zap.Error(err))
	}

	log := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if s, ok := log.(interface{ Sync() error }); ok {
		defer s.Sync() //nolint:errcheck
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Tracing ───────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		boot.Fatal("telemetry setup failed", zap.Error(err))
	}

	opts := []deferred.Option{
		deferred.WithLogger(log),
		deferred.WithTracer(telemetry.Tracer()),
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		recorder, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			boot.Fatal("metrics registration failed", zap.Error(err))
		}
		opts = append(opts, deferred.WithMetrics(recorder))
		gatherer = reg
	}

	// ── Facilitator ───────────────────────────────────────────────────────────
	facilitator := deferred.New(cfg.X402Config(), opts...)
	defer facilitator.Close()

	if err := facilitator.AddConfiguredNetworks(); err != nil {
		boot.Fatal("network registration failed", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := server.NewRouter(server.NewHandler(facilitator, log), gatherer)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", map[string]any{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			boot.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", map[string]any{"error": err})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracer shutdown error", map[string]any{"error": err})
	}
	log.Info("shutdown complete", nil)
}

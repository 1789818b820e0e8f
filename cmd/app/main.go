package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // For pprof profiling
	"os"
	"os/signal"
	"syscall"
	"time"

	"cross_arb/internal/app"
	"cross_arb/internal/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("BOOTSTRAP_FAILED", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config
	infra.PrintBanner(os.Stdout, cfg)

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Pprof and metrics servers, localhost by default
	if cfg.Metrics.Pprof != "" {
		go serve(ctx, cfg.Metrics.Pprof, http.DefaultServeMux, "pprof")
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go serve(ctx, cfg.Metrics.Addr, mux, "metrics")
	}

	// 4. Trader and sessions
	if err := bootstrap.Wire(ctx); err != nil {
		slog.Error("WIRE_FAILED", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	slog.Info("TRADER_RUNNING", slog.String("mode", cfg.Trading.Mode), slog.String("venue", cfg.Trading.Venue))
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("TRADER_FAILED", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	slog.Info("SHUTDOWN_COMPLETE")
}

func serve(ctx context.Context, addr string, h http.Handler, name string) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	slog.Info("HTTP_LISTENING", slog.String("server", name), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP_SERVER_FAILED", slog.String("server", name), slog.Any("error", err))
	}
}

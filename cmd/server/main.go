// Command relayq-server is the relayq queue server process.
// It loads configuration, initialises node identity, and starts the server.
//
// Usage:
//
//	relayq-server [--config path/to/config.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/config"
	"github.com/snehjoshi/relayq/internal/namespace"
	"github.com/snehjoshi/relayq/internal/node"
	"github.com/snehjoshi/relayq/internal/sweeper"
	transphttp "github.com/snehjoshi/relayq/internal/transport/http"
	"github.com/snehjoshi/relayq/internal/transport/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayq: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise node identity ──────────────────────────────────────────
	n, err := node.New(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	logger.Info("relayq starting",
		"node_id", n.ID(),
		"host", cfg.Node.Host,
		"port", cfg.Node.Port,
		"data_dir", n.DataDir(),
		"backend", cfg.Storage.Backend,
	)

	// ── 4. Initialise namespace registry ────────────────────────────────────
	nsReg, err := namespace.New(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("init namespace registry: %w", err)
	}

	// ── 5. Initialise broker (registry + queue engines + DLQ) ───────────────
	b, err := broker.New(cfg, string(n.ID()),
		broker.WithNamespaceRegistry(nsReg),
	)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}

	// ── 6. Start the background sweeper ──────────────────────────────────────
	var sw *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		interval, err := config.ParseDuration(cfg.Sweeper.Interval)
		if err != nil {
			return fmt.Errorf("invalid sweeper interval: %w", err)
		}
		sw = sweeper.New(b, interval, logger)
		sw.Start(context.Background())
	}

	// ── 7. Start HTTP / WebSocket transport ──────────────────────────────────
	opts := []transphttp.Option{transphttp.WithNamespaces(nsReg)}
	if cfg.WebSocket.Enabled {
		poll, err := config.ParseDuration(cfg.WebSocket.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid websocket poll interval: %w", err)
		}
		opts = append(opts, transphttp.WithWebSocket(&websocket.Handler{
			Broker:       b,
			Log:          logger,
			PollInterval: poll,
		}))
	}
	srv := transphttp.NewServer(cfg, b, logger, opts...)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relayq ready", "node_id", n.ID(), "addr", srv.Addr())
		serveErr <- srv.ListenAndServe()
	}()

	// ── 8. Start dedicated Prometheus metrics listener ───────────────────────
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			logger.Info("metrics server listening", "addr", metricsAddr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 9. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sw != nil {
		sw.Stop()
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("server shutdown error", "err", err)
	}
	if err := b.Close(); err != nil {
		logger.Warn("broker close error", "err", err)
	}

	logger.Info("relayq stopped")
	return nil
}

// Package main is the entry point for the komikgate binary.
// It provides a CLI for starting the comic-catalog gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/komikgate/komikgate/internal/governance"
	"github.com/komikgate/komikgate/internal/guard"
	"github.com/komikgate/komikgate/pkg/config"
	"github.com/komikgate/komikgate/pkg/gateway"
	"github.com/komikgate/komikgate/pkg/logging"
	"github.com/komikgate/komikgate/pkg/telemetry"
)

const serviceName = "komikgate"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for komikgate
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "komikgate",
		Short: "HTTP gateway for the komikstation comic catalog",
		Long: `A stateless gateway that fronts the komikstation catalog API.

It forwards catalog requests, rewrites image URLs inside JSON responses so
that browsers fetch images through the gateway's validated image proxy, and
rate-limits clients with a per-client sliding window.

Example:
  komikgate --listen :8090 --config gateway.yaml`,
		RunE: runGateway,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "Gateway listen address (overrides config)")
	rootCmd.Flags().String("admin", "", "Admin listen address (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	// Local development convenience. A missing .env file is not an error.
	_ = godotenv.Load()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.GatewayAddress = listen
	}
	if admin, _ := cmd.Flags().GetString("admin"); admin != "" {
		cfg.Server.AdminAddress = admin
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger := logging.New(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	limiter := governance.NewRateLimiter(governance.RateLimiterConfig{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
	})
	limiter.StartSweeper(ctx, cfg.RateLimit.SweepInterval, metrics.RecordLimiterEvictions)

	imageGuard := guard.New(cfg.Image.AllowedHosts, logger.With("component", "guard"))

	contentTimeouts := governance.NewTimeoutManager(governance.TimeoutConfig{
		RequestTimeout: cfg.Upstream.RequestTimeout,
	})
	imageTimeouts := governance.NewTimeoutManager(governance.TimeoutConfig{
		IdleTimeout:     cfg.Image.IdleTimeout,
		AbsoluteTimeout: cfg.Image.FetchTimeout,
	})

	contentHandler := gateway.NewContentHandler(gateway.ContentHandlerConfig{
		UpstreamBaseURL: cfg.Upstream.BaseURL,
		PathPrefix:      cfg.Upstream.PathPrefix,
		MaxJSONBytes:    cfg.Gateway.MaxJSONBytes,
		Limiter:         limiter,
		Timeouts:        contentTimeouts,
		Metrics:         metrics,
		Logger:          logger.With("component", "content"),
	})

	imageHandler := gateway.NewImageHandler(gateway.ImageHandlerConfig{
		MaxBytes:       cfg.Image.MaxBytes,
		PlaceholderURL: cfg.Image.PlaceholderURL,
		CacheMaxAge:    cfg.Image.CacheMaxAge,
		Guard:          imageGuard,
		Limiter:        limiter,
		Timeouts:       imageTimeouts,
		Metrics:        metrics,
		Logger:         logger.With("component", "image"),
	})

	// Hot reload applies the settings that are safe to swap at runtime: the
	// rate limit and the image host allow-list. Address and upstream changes
	// need a restart.
	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, logger.With("component", "config"), func(next *config.Config) {
			limiter.Configure(governance.RateLimiterConfig{
				Limit:  next.RateLimit.Limit,
				Window: next.RateLimit.Window,
			})
			imageGuard.SetAllowedHosts(next.Image.AllowedHosts)
			metrics.RecordConfigReload("success")
		})
		if err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			defer func() {
				if cerr := watcher.Close(); cerr != nil {
					logger.Warn("failed to close config watcher", "error", cerr)
				}
			}()
		}
	}

	gatewayMux := http.NewServeMux()
	gatewayMux.Handle("/api/proxy", contentHandler)
	gatewayMux.Handle("/api/proxy-img", imageHandler)

	gatewaySrv := &http.Server{
		Addr:              cfg.Server.GatewayAddress,
		Handler:           otelhttp.NewHandler(metrics.Middleware(gatewayMux), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/admin/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"rate_limited": limiter.Stats(),
		})
	})
	adminMux.Handle("/metrics", metrics.Handler())

	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway server listening",
			"address", cfg.Server.GatewayAddress,
			"upstream", cfg.Upstream.BaseURL,
		)
		if err := gatewaySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()
	go func() {
		logger.Info("admin server listening", "address", cfg.Server.AdminAddress)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway server shutdown failed", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown failed", "error", err)
	}

	return nil
}

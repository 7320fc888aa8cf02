package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castellan-labs/recourse/pkg/api"
	"github.com/castellan-labs/recourse/pkg/archive"
	"github.com/castellan-labs/recourse/pkg/checkpoint"
	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/observability"
	"github.com/castellan-labs/recourse/pkg/oracle"
)

// runServer wires config, archive, oracle, checkpoints, telemetry, and the
// HTTP surface, then blocks until SIGINT/SIGTERM.
func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sRecourse Oracle starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	logger := slog.Default()

	cfg := config.FromEnv()
	if cfg.Profile != "" {
		prof, err := config.LoadProfile(cfg.ProfileDir, cfg.Profile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to load governance profile: %v\n", err)
			return 2
		}
		cfg, err = prof.Apply(cfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to apply governance profile: %v\n", err)
			return 2
		}
		logger.Info("governance profile applied",
			"profile", prof.Name,
			"committee_size", len(cfg.CommitteeMembers))
	}
	if len(cfg.CommitteeMembers) == 0 {
		fmt.Fprintf(stdout, "ℹ️  RECOURSE_COMMITTEE not set. Falling back to the %sdev committee%s.\n", ColorBold+ColorCyan, ColorReset)
		fmt.Fprintf(stdout, "%s⚠️  The dev committee is for local exploration only. Configure real members in production.%s\n", ColorBold+ColorYellow, ColorReset)
		cfg.CommitteeMembers = []string{"0xalice", "0xbob", "0xcarol"}
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	oracleOpts := []oracle.Option{oracle.WithLogger(logger)}

	// Write-behind SQL archive, when configured.
	if cfg.ArchiveDriver != "" {
		db, err := archive.Open(archive.Dialect(cfg.ArchiveDriver), cfg.ArchiveDSN)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to open ledger archive: %v\n", err)
			return 2
		}
		defer db.Close()

		mirror := archive.NewSQLMirror(db, archive.Dialect(cfg.ArchiveDriver)).WithLogger(logger)
		if err := mirror.Init(ctx); err != nil {
			_, _ = fmt.Fprintf(stderr, "Failed to init ledger archive: %v\n", err)
			return 2
		}
		if n, err := mirror.Count(ctx); err == nil {
			logger.Info("ledger archive attached",
				"driver", cfg.ArchiveDriver,
				"archived_entries", n)
		}
		oracleOpts = append(oracleOpts, oracle.WithMirror(mirror))
	}

	orc, err := oracle.New(cfg, oracleOpts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to init oracle: %v\n", err)
		return 2
	}

	pub, err := checkpoint.NewPublisher(orc.Ledger(), "recourse-ledger", cfg.CheckpointSeed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to init checkpoint publisher: %v\n", err)
		return 2
	}
	if cfg.CheckpointSeed == "" {
		logger.Warn("checkpoint seed not configured; signing with an ephemeral key")
	}
	fmt.Fprintf(stdout, "🔑 Checkpoint key: %s%s%s\n", ColorBold+ColorGreen, pub.PublicKey(), ColorReset)

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, 10, 30)
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		limiter = api.NewIPLimiter(10, 30)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to init telemetry: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	srv := api.NewServer(orc).
		WithCheckpoints(pub).
		WithLimiter(limiter).
		WithLogger(logger)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           obs.HTTPMiddleware(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("governance oracle listening", "addr", cfg.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	fmt.Fprintf(stdout, "Ready on %s. Press ctrl+c to stop.\n", cfg.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Server failed: %v\n", err)
			return 2
		}
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}

	return 0
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dpoc-dashboard/internal/analytics"
	"dpoc-dashboard/internal/config"
	"dpoc-dashboard/internal/gate"
	"dpoc-dashboard/internal/recorder"
	"dpoc-dashboard/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	// One-shot helper: print a bcrypt hash for passphrase_hash and exit.
	//
	//   go run ./cmd/dpoc-dashboard --hash-passphrase 'my secret'
	//
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--hash-passphrase" && i+1 < len(args) {
			h, err := gate.HashPassphrase(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(h)
			return
		}
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config.yaml: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)

	logger.Info("dpoc-dashboard starting",
		slog.Int("port", cfg.Port),
		slog.String("ip_source", cfg.IPSource),
		slog.String("analytics_url", cfg.AnalyticsURL),
		slog.String("schedule", cfg.AnalyticsSchedule),
	)
	if cfg.AllowedIP == "" {
		logger.Warn("no allowed_ip configured; every visitor needs the passphrase")
	}

	// Gate: where the caller's address comes from, and how the passphrase is checked
	var resolver gate.Resolver
	switch cfg.IPSource {
	case "remote_addr":
		resolver = gate.RemoteAddrResolver{}
	default:
		resolver = gate.NewLookupResolver(cfg.IPLookupURL, cfg.IPLookupTimeout())
	}
	var verifier gate.Verifier = gate.NewPlainVerifier(cfg.Passphrase)
	if cfg.PassphraseHash != "" {
		bv, err := gate.NewBcryptVerifier(cfg.PassphraseHash)
		if err != nil {
			logger.Error("passphrase_hash", slog.String("err", err.Error()))
			os.Exit(1)
		}
		verifier = bv
	}

	// Recorder (optional)
	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.SQLitePath, cfg.KeepSnapshots)
		if err != nil {
			logger.Warn("sqlite recorder disabled", slog.String("path", cfg.SQLitePath), slog.String("err", err.Error()))
		} else {
			rec = sr
		}
	}
	defer rec.Close()

	// Analytics client + poller
	client := analytics.NewClient(cfg.AnalyticsURL, cfg.AnalyticsAPIKey, cfg.FetchTimeout(), logger)
	feed, err := analytics.NewPoller(client, cfg.AnalyticsSchedule, cfg.FetchTimeout(), logger)
	if err != nil {
		logger.Error("analytics poller", slog.String("err", err.Error()))
		os.Exit(1)
	}
	seedFromArchive(feed, rec, logger)

	// HTTP server + WS hub
	srv, err := server.NewHTTPServer(cfg, resolver, verifier, feed, rec, logger)
	if err != nil {
		logger.Error("http server init", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Context & signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start polling
	feedDone := make(chan struct{})
	go func() {
		feed.Run(ctx, func(ok bool) {
			// Push status to browser
			srv.SetUpstream(ok)
		})
		close(feedDone)
	}()

	go srv.StartJanitor(ctx, time.Minute)

	// Pipe feed → recorder + hub
	go func() {
		for {
			select {
			case up, ok := <-feed.Updates():
				if !ok {
					return
				}
				rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
				if err := rec.RecordSnapshot(rctx, recorder.StoredSnapshot{FetchedAt: up.FetchedAt, Raw: up.Raw}); err != nil {
					logger.Warn("archive snapshot", slog.String("err", err.Error()))
				}
				rcancel()
				srv.BroadcastSnapshot(up)
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP serving
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	_ = httpSrv.Shutdown(shCtx)
	cancel()
	<-feedDone
	feed.Close()
	<-done
	logger.Info("bye")
}

// seedFromArchive shows the last archived snapshot until the first live fetch.
func seedFromArchive(p *analytics.Poller, rec recorder.Recorder, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := rec.LatestSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, recorder.ErrNoSnapshot) {
			logger.Warn("load archived snapshot", slog.String("err", err.Error()))
		}
		return
	}
	snap, err := analytics.Decode(stored.Raw)
	if err != nil {
		logger.Warn("archived snapshot unreadable", slog.String("err", err.Error()))
		return
	}
	p.Seed(analytics.Update{Snapshot: snap, Raw: stored.Raw, FetchedAt: stored.FetchedAt})
	logger.Info("seeded from archive", slog.String("fetched_at", stored.FetchedAt.Format(time.RFC3339)))
}

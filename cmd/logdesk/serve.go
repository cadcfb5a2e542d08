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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alecgard/logdesk/internal/api"
	"github.com/alecgard/logdesk/internal/auth"
	"github.com/alecgard/logdesk/internal/config"
	"github.com/alecgard/logdesk/internal/metrics"
	"github.com/alecgard/logdesk/internal/ratelimit"
	"github.com/alecgard/logdesk/internal/retention"
	"github.com/alecgard/logdesk/internal/usagelog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the log API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		st := pool.Stat()
		return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	})

	logStore := usagelog.NewStore(pool)
	collector := usagelog.NewCollector(logStore, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval)
	collector.OnFlush(func(n int, err error) {
		m.ObserveFlush(n, err)
		m.SetBufferSize(collector.Pending())
	})
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collector.Start(ctx)
	}()

	cache, err := auth.NewCache()
	if err != nil {
		return fmt.Errorf("creating auth cache: %w", err)
	}
	defer cache.Close()
	authService := auth.NewService(auth.NewStore(pool), cache, cfg.Server.AuthCacheTTL)

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
		go pruneLimiter(ctx, limiter, cfg.Server.RateWindow)
	}

	var purger *retention.Purger
	if cfg.Retention.Enabled {
		loc, err := config.Location(cfg.Retention.Timezone)
		if err != nil {
			return err
		}
		purger, err = retention.New(logStore, retention.Config{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
			Location: loc,
			OnResult: m.ObservePurge,
		})
		if err != nil {
			return err
		}
		if err := purger.Start(ctx); err != nil {
			return err
		}
	}

	router := api.NewRouter(api.RouterDeps{
		DB:          pool,
		Logs:        logStore,
		Collector:   collector,
		Auth:        authService,
		Limiter:     limiter,
		Metrics:     m,
		PageSize:    cfg.Server.PageSize,
		SearchLimit: cfg.Server.SearchLimit,
		CORSOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		cancel()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)

	if purger != nil {
		purger.Stop(shutdownCtx)
	}
	collector.Stop()
	select {
	case <-collectorDone:
	case <-shutdownCtx.Done():
		slog.Warn("collector did not drain before shutdown deadline", "pending", collector.Pending())
	}

	return err
}

// pruneLimiter periodically drops rate-limit buckets of idle users.
func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(2 * window); n > 0 {
				slog.Debug("pruned idle rate limit buckets", "count", n)
			}
		}
	}
}

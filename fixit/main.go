package main

import (
	"context"
	"errors"
	"fixit/fixit/config"
	"fixit/fixit/controllers"
	"fixit/fixit/middlewares"
	"fixit/fixit/routes"
	"fixit/fixit/services/llm"
	"fixit/fixit/services/quota"
	"fixit/fixit/services/retention"
	"fixit/fixit/sources/psql"
	"fixit/fixit/sources/psql/dao"
	"fixit/fixit/sources/redis"
	"fixit/fixit/sources/sqlite"
	"fixit/fixit/sources/usage"
	"fixit/fixit/utils/logging"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.InitLogger(cfg.LogDir)
	defer logging.Sync()

	requestTimeout := cfg.UpstreamTimeout + 5*time.Second
	// A slot outlives the longest request plus its detached settle writes.
	holdFor := requestTimeout + controllers.SettleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := openStore(ctx, cfg, holdFor)
	cancel()
	if err != nil {
		logging.ErrorLogger.Error("storage connection error", zap.String("backend", cfg.StorageBackend), zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	logging.AppLogger.Info("usage store ready", zap.String("backend", cfg.StorageBackend))

	policy := quota.NewPolicy(store, cfg.DailyMessageLimit)
	groq := llm.NewGroqClient(cfg.GroqAPIKey,
		llm.WithBaseURL(cfg.GroqBaseURL),
		llm.WithModel(cfg.GroqModel),
		llm.WithTimeout(cfg.UpstreamTimeout),
	)
	if !groq.Configured() {
		logging.ErrorLogger.Error("GROQ_API_KEY is not set; chat requests will fail")
	}

	limiter := middlewares.NewRateLimiter(cfg.RateLimitPerMinute)
	defer limiter.Stop()

	r := routes.NewRouter(routes.Deps{
		Chat:           controllers.NewChatController(policy, groq, controllers.WithSystemPrompt(cfg.SystemPrompt)),
		Usage:          controllers.NewUsageController(policy),
		Health:         controllers.NewHealthController(store),
		Limiter:        limiter,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: requestTimeout,
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if p, ok := store.(usage.Pruner); ok && cfg.UsageRetentionDays > 0 {
		go retention.NewPruner(p, cfg.UsageRetentionDays).Run(bgCtx, retention.Interval)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.AppLogger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.Int("daily_limit", cfg.DailyMessageLimit),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorLogger.Error("server listen error", zap.Error(err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stopBackground()

	// In-flight chats get to settle their slots before the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), max(10*time.Second, holdFor))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
	}
	logging.AppLogger.Info("server shutdown complete")
}

// openStore connects the configured backend. Unsettled reservations stop
// counting after holdFor. Redis keys expire after the retention window, or
// after two days when retention is off.
func openStore(ctx context.Context, cfg config.Config, holdFor time.Duration) (usage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := psql.NewDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return dao.NewUsageDAO(db.DB, dao.WithReservationTTL(holdFor)), nil
	case config.BackendSQLite:
		return sqlite.OpenStore(cfg.SQLitePath, sqlite.WithReservationTTL(holdFor))
	case config.BackendRedis:
		opts := []redis.Option{redis.WithReservationTTL(holdFor)}
		if cfg.UsageRetentionDays > 0 {
			opts = append(opts, redis.WithTTL(time.Duration(cfg.UsageRetentionDays)*24*time.Hour))
		}
		return redis.Connect(ctx, cfg.RedisURL, opts...)
	case config.BackendMemory:
		logging.AppLogger.Warn("memory usage store: counts are lost on restart")
		return usage.NewMemoryStore(usage.WithMemoryReservationTTL(holdFor)), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hczdngr/xinchat-eventlog/internal/adapter/api"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/api/middleware"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/metrics"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/logfile"
	redisrepo "github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/redis"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/statefile"
	"github.com/hczdngr/xinchat-eventlog/internal/domain"
	"github.com/hczdngr/xinchat-eventlog/internal/pkg/config"
	"github.com/hczdngr/xinchat-eventlog/internal/pkg/logger"
	"github.com/hczdngr/xinchat-eventlog/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = usecase.DefaultInstanceID()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Optional distributed layer ---
	var agg domain.Aggregator
	if cfg.RedisAddr != "" {
		opts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("could not reach redis, starting local-only until it recovers", "error", err)
		}
		agg = redisrepo.NewAggregator(client, redisrepo.Options{
			KeyPrefix:    cfg.RedisKeyPrefix,
			OpTimeout:    cfg.RedisOpTimeout,
			Cooldown:     cfg.RedisRetryCooldown,
			StreamMaxLen: cfg.StreamMaxLen,
		}, log)
	} else {
		log.Info("no redis configured, running local-only")
	}

	// --- Durable sink + local state ---
	var locker domain.RotationLocker
	if agg != nil {
		locker = agg
	}
	writer, err := logfile.NewWriter(logfile.Options{
		Path:          cfg.LogPath,
		ArchiveDir:    cfg.ArchiveDir,
		RotateEnabled: cfg.RotateEnabled,
		MaxBytes:      cfg.RotateMaxBytes,
		MaxArchives:   cfg.ArchiveMaxFiles,
		CheckInterval: cfg.RotateCheckInterval,
		InstanceID:    instanceID,
		Locker:        locker,
		LockTTL:       cfg.RotationLockTTL,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed to open log file", "error", err)
		os.Exit(1)
	}
	defer writer.Close()

	store := statefile.NewStore(cfg.StatePath, instanceID, cfg.StateDebounce, log)

	// --- Core ---
	m := metrics.NewEventLogMetrics()
	eventLogger := usecase.NewEventLogger(writer, store, agg, m, log, usecase.Options{
		Gate:            func() bool { return cfg.Enabled },
		InstanceID:      instanceID,
		QueueCapacity:   cfg.QueueCapacity,
		FlushInterval:   cfg.FlushInterval,
		FlushBatchSize:  cfg.FlushBatchSize,
		WriteTimeout:    cfg.WriteTimeout,
		WriteRetries:    cfg.WriteRetries,
		RetryBackoff:    cfg.WriteRetryBackoff,
		RateWindow:      cfg.RateWindow,
		RateMax:         cfg.RateMax,
		RotateMaxBytes:  cfg.RotateMaxBytes,
		ArchiveMaxFiles: cfg.ArchiveMaxFiles,
	})

	workerDone := make(chan struct{})
	go func() {
		eventLogger.Run(ctx)
		close(workerDone)
	}()

	// --- HTTP surface ---
	router := api.NewRouter(eventLogger, log, cfg.MaxEventSize)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      middleware.Logging(log)(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting event log server", "addr", server.Addr, "instance_id", instanceID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	// The worker drains the queue and persists state on its way out.
	<-workerDone
	log.Info("shut down gracefully")
}

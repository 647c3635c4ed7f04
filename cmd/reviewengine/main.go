// Package main запускает HTTP-сервер движка распределения рецензий и фоновую проверку сроков.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/config"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/events"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/handler"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/idgen"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/logger"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/metrics"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/middleware"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/reaper"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/repository"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/storage"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/telemetry"
)

type store interface {
	engine.Store
	Close() error
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("application terminated with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "reviewengine", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var repo store
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return fmt.Errorf("database initialization: %w", err)
		}
		repo = pg
	} else {
		log.Warn("DATABASE_URI is empty, using in-memory store")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := events.NewHub()
	fanout, closeSinks, err := buildSinks(ctx, cfg, log, m, hub)
	if err != nil {
		return err
	}
	defer closeSinks()

	presigner, err := buildPresigner(ctx, cfg, log)
	if err != nil {
		return err
	}

	eng := engine.New(repo, ids, log,
		engine.WithEmitter(fanout),
		engine.WithPresigner(presigner),
		engine.WithMetrics(m),
		engine.WithOptions(engine.Options{
			PayoutPerCredit: cfg.PayoutPerCredit,
			ReviewWindow:    cfg.ReviewWindow,
			AccessTTL:       cfg.AccessTokenTTL,
			MaxAttempts:     3,
			RetryDelay:      5 * time.Millisecond,
		}),
	)

	rp := reaper.New(eng, repo, log, m, reaper.Options{
		Interval: cfg.ReaperInterval,
		Batch:    cfg.ReaperBatch,
		Workers:  cfg.ReaperWorkers,
	})

	auth := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		log.Warn("AUTH_SECRET is empty, tokens are valid only for this process")
	}
	h := handler.NewHandler(eng, hub, reg, log, auth)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rp.Run(ctx)
	})

	g.Go(func() error {
		log.Info("starting review engine server", zap.String("addr", cfg.RunAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка сервера при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// buildSinks подключает настроенных получателей событий. Hub подключён всегда.
func buildSinks(ctx context.Context, cfg *config.Config, log *zap.Logger, m *metrics.Metrics, hub *events.Hub) (*events.Fanout, func(), error) {
	codec, err := events.NewCodec(cfg.EventCodec)
	if err != nil {
		return nil, nil, err
	}

	fanout := events.NewFanout(log, m, hub)
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	// внешние получатели работают через очередь, соединение закрывается после её опустошения
	enqueue := func(s events.Sink) {
		q := events.NewQueued(s, events.DefaultQueueSize, log, m)
		closers = append(closers, func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := q.Close(drainCtx); err != nil {
				log.Warn("event queue not drained", zap.String("sink", s.Name()), zap.Error(err))
			}
		})
		fanout.Add(q)
	}

	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = nc.Drain() })
		sink, err := events.NewJetStreamSink(ctx, nc, codec)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		enqueue(sink)
		log.Info("jetstream event sink enabled", zap.String("stream", events.StreamName))
	}

	if cfg.RedisAddr != "" {
		rdb, err := events.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		enqueue(events.NewRedisStreamSink(rdb, cfg.RedisStream, 0, codec))
		log.Info("redis event sink enabled", zap.String("stream", cfg.RedisStream))
	}

	if cfg.WebhookURL != "" {
		enqueue(events.NewWebhookSink(cfg.WebhookURL, codec, events.WebhookOptions{}))
		log.Info("webhook event sink enabled", zap.String("url", cfg.WebhookURL))
	}

	return fanout, closeAll, nil
}

func buildPresigner(ctx context.Context, cfg *config.Config, log *zap.Logger) (engine.Presigner, error) {
	if cfg.StorageEndpoint == "" {
		log.Warn("STORAGE_ENDPOINT is empty, material links are unsigned", zap.String("base", cfg.MaterialsBaseURL))
		return storage.Static{BaseURL: cfg.MaterialsBaseURL}, nil
	}
	s, err := storage.NewMinioSigner(ctx, storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		Region:    cfg.StorageRegion,
		UseSSL:    cfg.StorageUseSSL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return s, nil
}

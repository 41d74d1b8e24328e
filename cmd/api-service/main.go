package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MagnunAVF/shortlinks/internal/analytics"
	"github.com/MagnunAVF/shortlinks/internal/auth"
	"github.com/MagnunAVF/shortlinks/internal/cache"
	"github.com/MagnunAVF/shortlinks/internal/config"
	"github.com/MagnunAVF/shortlinks/internal/httpapi"
	"github.com/MagnunAVF/shortlinks/internal/idgen"
	applog "github.com/MagnunAVF/shortlinks/internal/logger"
	"github.com/MagnunAVF/shortlinks/internal/queue"
	"github.com/MagnunAVF/shortlinks/internal/shortener"
	"github.com/MagnunAVF/shortlinks/internal/store"
)

const shutdownTimeout = 10 * time.Second

type linkStore interface {
	store.Links
	store.Users
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "api-service"
	}
	log := applog.Init(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("API Service stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = applog.IntoContext(ctx, log)

	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		return err
	}

	var (
		links  linkStore
		health []func(context.Context) error
	)
	switch cfg.StoreDriver {
	case "postgres":
		log.Info("Running database migrations...")
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("Migration complete.")

		db, err := store.Open(cfg.DatabaseURL, applog.NewGormLogger(cfg.GormLogLevel, cfg.SlowQuery))
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		pg := store.NewPostgres(db, cfg.ShortURLBase)
		links = pg
		health = append(health, pg.Ping)
	default:
		log.Warn("Using in-memory store, data is lost on restart")
		links = store.NewMemory(cfg.ShortURLBase)
	}

	var resolveCache cache.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// resolution falls back to the store while Redis is away
			log.Warn("Unable to connect to Redis", "addr", cfg.RedisAddr, "err", err)
		}
		resolveCache = cache.NewRedis(rdb)
	} else {
		log.Warn("REDIS_ADDR not set, resolution cache disabled")
	}

	mq, err := queue.Dial(cfg.RabbitMQURL, cfg.ClickQueue)
	if err != nil {
		return err
	}
	defer mq.Close()
	health = append(health, func(context.Context) error { return mq.Ping() })

	producer := analytics.NewProducer(mq, cfg.EnqueueBuffer, cfg.PublishTimeout)
	producer.Start(cfg.AnalyticsWorkers)

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	app := httpapi.New(httpapi.Options{
		ProxyHeader:     cfg.ProxyHeader,
		LandingURL:      cfg.RedirectLandingURL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, httpapi.Deps{
		Links:      shortener.NewLinks(links, ids),
		Redirector: shortener.NewRedirector(resolveCache, links, producer, cfg.CacheTTL),
		Accounts:   auth.NewAccounts(links, ids, issuer, cfg.AdminUsers),
		Issuer:     issuer,
		Health: func(ctx context.Context) error {
			for _, check := range health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting API Service", "addr", cfg.APIAddr)
		return app.Listen(cfg.APIAddr)
	})

	// publishes fail for good once the broker connection is gone, so the
	// process stops and gets restarted with a fresh one
	g.Go(func() error {
		select {
		case amqpErr, ok := <-mq.Closed():
			if ok && amqpErr != nil {
				return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	// nothing outside this process can see an in-memory store, so its visits
	// are recorded here
	if cfg.StoreDriver == "memory" {
		deliveries, err := mq.Consume(cfg.AnalyticsPrefetch)
		if err != nil {
			return err
		}
		recorder := analytics.NewRecorder(links, cfg.AnalyticsWorkers, cfg.RetryDelay)
		g.Go(func() error {
			return recorder.Run(gctx, deliveries)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down API Service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		if perr := producer.Close(shutdownCtx); perr != nil {
			log.Error("Visit jobs still buffered at shutdown were lost", "err", perr)
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("API Service stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/karprabha/snowjob-backend/internal/audit"
	"github.com/karprabha/snowjob-backend/internal/config"
	"github.com/karprabha/snowjob-backend/internal/escrow"
	"github.com/karprabha/snowjob-backend/internal/events"
	"github.com/karprabha/snowjob-backend/internal/logger"
	"github.com/karprabha/snowjob-backend/internal/store"
)

// backends owns the connections opened for the configured store, audit
// sink and publishers. close releases them in reverse order.
type backends struct {
	jobs       store.JobStore
	sink       audit.Sink
	publishers events.Multi
	closers    []func(context.Context) error
}

func (b *backends) onClose(fn func(context.Context) error) {
	b.closers = append(b.closers, fn)
}

func (b *backends) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.close(context.Background())
		}
	}()

	var (
		pool *pgxpool.Pool
		db   *mongo.Database
	)
	if cfg.Store.Backend == "postgres" || cfg.Audit.Backend == "postgres" {
		if pool, err = openPostgres(ctx, b, cfg.Store.PostgresURL); err != nil {
			return nil, err
		}
	}
	if cfg.Store.Backend == "mongo" || cfg.Audit.Backend == "mongo" {
		if db, err = openMongo(ctx, b, cfg.Store); err != nil {
			return nil, err
		}
	}

	switch cfg.Store.Backend {
	case "postgres":
		pg := store.NewPostgresJobStore(pool)
		if err = pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate job store: %w", err)
		}
		b.jobs = pg
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		b.onClose(func(context.Context) error { return client.Close() })
		if err = client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.jobs = store.NewRedisJobStore(client)
	case "mongo":
		if b.jobs, err = store.NewMongoJobStore(ctx, db.Collection("jobs")); err != nil {
			return nil, err
		}
	default:
		b.jobs = store.NewInMemoryJobStore()
	}

	switch cfg.Audit.Backend {
	case "postgres":
		pg := audit.NewPostgresSink(pool)
		if err = pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate audit sink: %w", err)
		}
		b.sink = pg
	case "mongo":
		if b.sink, err = audit.NewMongoSink(ctx, db.Collection("audit_entries")); err != nil {
			return nil, err
		}
	default:
		b.sink = audit.NewInMemorySink()
	}

	if len(cfg.Events.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:        cfg.Events.KafkaBrokers,
			Topic:          cfg.Events.KafkaTopic,
			PublishTimeout: 5 * time.Second,
			RetryAttempts:  3,
		})
		if err != nil {
			return nil, err
		}
		b.onClose(func(context.Context) error { return kp.Close() })
		b.publishers = append(b.publishers, kp)
		log.Info(ctx, "Kafka publisher ready", "event", "publisher_ready", "topic", cfg.Events.KafkaTopic)
	}
	if cfg.Events.RabbitURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.Events.RabbitURL, cfg.Events.RabbitExchange)
		if err != nil {
			return nil, err
		}
		b.onClose(func(context.Context) error { return rp.Close() })
		b.publishers = append(b.publishers, rp)
		log.Info(ctx, "RabbitMQ publisher ready", "event", "publisher_ready", "exchange", cfg.Events.RabbitExchange)
	}

	return b, nil
}

func openPostgres(ctx context.Context, b *backends, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b.onClose(func(context.Context) error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func openMongo(ctx context.Context, b *backends, cfg config.Store) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	b.onClose(client.Disconnect)
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}

func openGateway(cfg config.Escrow) (escrow.Gateway, error) {
	if cfg.Gateway != "http" {
		return escrow.NewSandboxGateway(), nil
	}
	gw, err := escrow.NewHTTPGateway(escrow.HTTPGatewayConfig{
		BaseURL:             cfg.BaseURL,
		APIKey:              cfg.APIKey,
		BreakerFailureRatio: cfg.BreakerFailureRatio,
		BreakerMinRequests:  cfg.BreakerMinRequests,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	return gw, nil
}

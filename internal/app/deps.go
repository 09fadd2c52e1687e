package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kindred/backend/internal/auth"
	"github.com/kindred/backend/internal/config"
	"github.com/kindred/backend/internal/connections"
	"github.com/kindred/backend/internal/db"
	"github.com/kindred/backend/internal/handlers"
	"github.com/kindred/backend/internal/meetings"
	"github.com/kindred/backend/internal/messages"
	"github.com/kindred/backend/internal/middleware"
	"github.com/kindred/backend/internal/notify"
	"github.com/kindred/backend/internal/repositories"
	"github.com/kindred/backend/internal/reviews"
)

const (
	rateLimiterTTL          = 10 * time.Minute
	notificationDeliveryTTL = 5 * time.Second
	sessionPruneInterval    = time.Hour
)

type relationshipStores struct {
	connections repositories.ConnectionRepository
	meetings    repositories.MeetingRepository
	messages    repositories.MessageRepository
	reviews     repositories.ReviewRepository
	health      handlers.HealthChecker
	close       func(context.Context) error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains notifications and closes secondary
// clients; the caller still owns pool.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	checks := make(map[string]handlers.HealthChecker)
	if pinger, ok := pool.(handlers.HealthChecker); ok {
		checks["postgres"] = pinger
	}

	stores, err := openRelationshipStores(ctx, pool, cfg)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	if stores.health != nil {
		checks[cfg.RelationshipStore] = stores.health
	}

	sink := notify.MultiSink{notify.LogSink{Logger: logger}}
	var redisClient *redis.Client
	if cfg.Notifications.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Notifications.RedisAddr,
			Password: cfg.Notifications.RedisPassword,
			DB:       cfg.Notifications.RedisDB,
		})
		sink = append(sink, notify.NewRedisSink(redisClient, cfg.Notifications.ChannelPrefix))
		checks["redis"] = handlers.HealthCheckFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	dispatcher := notify.NewDispatcher(sink, notify.DispatcherConfig{
		QueueSize:       cfg.Notifications.QueueSize,
		Workers:         cfg.Notifications.Workers,
		DeliveryTimeout: notificationDeliveryTTL,
	}, logger)

	users := repositories.NewPostgresUserRepository(pool)
	sessions := auth.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, repositories.NewPostgresSessionStore(pool))

	pruneCtx, stopPruning := context.WithCancel(context.Background())
	pruneDone := make(chan struct{})
	go func() {
		defer close(pruneDone)
		pruneSessions(pruneCtx, sessions, sessionPruneInterval, logger)
	}()

	deps := handlers.Dependencies{
		Users:        users,
		Sessions:     sessions,
		Tokens:       sessions,
		Connections:  connections.NewManager(stores.connections, users, dispatcher, nil, nil),
		Meetings:     meetings.NewCoordinator(stores.meetings, stores.connections, dispatcher, nil, nil),
		Messages:     messages.NewService(stores.messages, stores.connections, dispatcher, nil, nil),
		Reviews:      reviews.NewService(stores.reviews, stores.connections, stores.meetings, dispatcher, nil, nil),
		RateLimiter:  middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, rateLimiterTTL),
		HealthChecks: checks,
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		stopPruning()
		<-pruneDone
		if err := dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if stores.close != nil {
			if err := stores.close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return deps, cleanup, nil
}

func openRelationshipStores(ctx context.Context, pool db.Pool, cfg config.Config) (relationshipStores, error) {
	switch cfg.RelationshipStore {
	case config.StoreMongo:
		client, database, err := db.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return relationshipStores{}, err
		}
		if err := repositories.EnsureMongoIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return relationshipStores{}, err
		}
		return relationshipStores{
			connections: repositories.NewMongoConnectionStore(database),
			meetings:    repositories.NewMongoMeetingStore(database),
			messages:    repositories.NewMongoMessageStore(database),
			reviews:     repositories.NewMongoReviewStore(database),
			health: handlers.HealthCheckFunc(func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			}),
			close: func(ctx context.Context) error {
				if err := client.Disconnect(ctx); err != nil {
					return fmt.Errorf("disconnect mongo: %w", err)
				}
				return nil
			},
		}, nil
	case config.StorePostgres, "":
		return relationshipStores{
			connections: repositories.NewPostgresConnectionStore(pool),
			meetings:    repositories.NewPostgresMeetingStore(pool),
			messages:    repositories.NewPostgresMessageStore(pool),
			reviews:     repositories.NewPostgresReviewStore(pool),
		}, nil
	default:
		return relationshipStores{}, fmt.Errorf("unknown relationship store %q", cfg.RelationshipStore)
	}
}

type sessionPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// pruneSessions deletes expired refresh tokens every interval until ctx ends.
func pruneSessions(ctx context.Context, pruner sessionPruner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := pruner.PruneExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("prune expired sessions", "error", err)
				}
				continue
			}
			if removed > 0 {
				logger.Info("pruned expired sessions", "removed", removed)
			}
		}
	}
}

package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicore/clinical-governance-backend/internal/infrastructure/config"
)

// invalidationChannel carries clinic ids whose rule entries must be
// dropped; the sentinel "*" drops everything.
const invalidationChannel = "cgb:rules:invalidate"

// InvalidateAllKey is the broadcast payload for a full cache flush.
const InvalidateAllKey = "*"

// Invalidator fans rule-cache invalidations out to every process. The
// local RuleCache alone would leave sibling processes stale for up to one
// TTL after a write; the broadcast closes that window.
type Invalidator struct {
	client *redis.Client
	cache  *RuleCache
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInvalidator connects to Redis and verifies the connection.
func NewInvalidator(cfg *config.RedisConfig, cache *RuleCache, logger *zap.Logger) (*Invalidator, error) {
	if cache == nil {
		return nil, fmt.Errorf("rule cache is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("rule cache invalidator initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	return &Invalidator{
		client: client,
		cache:  cache,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes to the invalidation channel and applies messages to the
// local cache until Close is called.
func (inv *Invalidator) Start(ctx context.Context) {
	ctx, inv.cancel = context.WithCancel(ctx)
	sub := inv.client.Subscribe(ctx, invalidationChannel)

	go func() {
		defer close(inv.done)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == InvalidateAllKey {
					inv.cache.InvalidateAll()
				} else {
					inv.cache.Invalidate(msg.Payload)
				}
				inv.logger.Debug("rule cache invalidated",
					zap.String("key", msg.Payload))
			}
		}
	}()
}

// Broadcast drops the clinic's entry locally and publishes the
// invalidation to every subscriber. Pass InvalidateAllKey to flush all.
func (inv *Invalidator) Broadcast(ctx context.Context, clinicID string) error {
	if clinicID == InvalidateAllKey {
		inv.cache.InvalidateAll()
	} else {
		inv.cache.Invalidate(clinicID)
	}

	if err := inv.client.Publish(ctx, invalidationChannel, clinicID).Err(); err != nil {
		inv.logger.Error("invalidation broadcast failed",
			zap.String("key", clinicID),
			zap.Error(err))
		return fmt.Errorf("publishing invalidation: %w", err)
	}
	return nil
}

// Close stops the subscription and releases the client.
func (inv *Invalidator) Close() error {
	if inv.cancel != nil {
		inv.cancel()
		<-inv.done
	}
	return inv.client.Close()
}

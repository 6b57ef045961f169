package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier state TTLs.
const (
	msgCountWindow    = 24 * time.Hour
	productSeenWindow = 48 * time.Hour
)

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// NewRedisStore wraps an existing client (tests use miniredis here).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Ctx: context.Background()}
}

// IncrMsgCount increments the rolling daily message counter for a chat.
// A 24h TTL is applied on first set. Returns the current count.
func (r *RedisStore) IncrMsgCount(ctx context.Context, chatID int64) (int64, error) {
	key := fmt.Sprintf("msgcount:%d", chatID)
	val, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		r.Client.Expire(ctx, key, msgCountWindow)
	}
	return val, nil
}

// MsgCount reads the current daily counter without touching it.
func (r *RedisStore) MsgCount(ctx context.Context, chatID int64) (int64, error) {
	val, err := r.Client.Get(ctx, fmt.Sprintf("msgcount:%d", chatID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// SetUserCooldown pauses a chat for the given window after it hit its cap.
func (r *RedisStore) SetUserCooldown(ctx context.Context, chatID int64, window time.Duration) error {
	return r.Client.Set(ctx, fmt.Sprintf("cooldown:user:%d", chatID), "1", window).Err()
}

// UserOnCooldown reports whether a chat is currently paused.
func (r *RedisStore) UserOnCooldown(ctx context.Context, chatID int64) (bool, error) {
	n, err := r.Client.Exists(ctx, fmt.Sprintf("cooldown:user:%d", chatID)).Result()
	return n > 0, err
}

// MarkProductSent records a product URL hash in the per-chat dedup set,
// refreshing its 48h window.
func (r *RedisStore) MarkProductSent(ctx context.Context, chatID int64, urlHash string) error {
	key := fmt.Sprintf("cooldown:product:%d", chatID)
	if err := r.Client.SAdd(ctx, key, urlHash).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, productSeenWindow).Err()
}

// ProductSent reports whether a product was already sent to a chat recently.
func (r *RedisStore) ProductSent(ctx context.Context, chatID int64, urlHash string) (bool, error) {
	return r.Client.SIsMember(ctx, fmt.Sprintf("cooldown:product:%d", chatID), urlHash).Result()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

package pending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "payment_verifier:pending:"
	defaultTTL = 5 * time.Minute
)

// Удаляем ключ только если он принадлежит этому экземпляру: после истечения TTL
// его мог захватить другой экземпляр.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSet shares the pending-set between service instances. Entries expire
// after ttl so a crashed instance cannot block a hash forever.
type RedisSet struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
	logger *zap.Logger
}

func NewRedisSet(url string, ttl time.Duration, logger *zap.Logger) (*RedisSet, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisSetFromClient(client, ttl, logger), nil
}

func NewRedisSetFromClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSet {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSet{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

func (s *RedisSet) TryAcquire(ctx context.Context, txHash string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key(txHash), s.owner, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark %s pending: %w", txHash, err)
	}
	return ok, nil
}

func (s *RedisSet) Release(ctx context.Context, txHash string) error {
	err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key(txHash)}, s.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("failed to release pending marker", zap.String("tx_hash", txHash), zap.Error(err))
		return fmt.Errorf("failed to release %s: %w", txHash, err)
	}
	return nil
}

func (s *RedisSet) Close() error {
	return s.client.Close()
}

package repository

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	configCacheSize  = 64
	supportedTokensK = "supported_tokens"
)

// cachedConfigRepository держит значения конфигурации в памяти ttl времени.
type cachedConfigRepository struct {
	next   ConfigRepository
	fields *expirable.LRU[string, string]
	tokens *expirable.LRU[string, map[string]string]
	logger *zap.Logger
}

// NewCachedConfigRepository wraps next with an expiring cache.
// A non-positive ttl disables caching and returns next as is.
func NewCachedConfigRepository(next ConfigRepository, ttl time.Duration, logger *zap.Logger) ConfigRepository {
	if ttl <= 0 {
		return next
	}
	return &cachedConfigRepository{
		next:   next,
		fields: expirable.NewLRU[string, string](configCacheSize, nil, ttl),
		tokens: expirable.NewLRU[string, map[string]string](1, nil, ttl),
		logger: logger,
	}
}

func (r *cachedConfigRepository) GetConfigField(ctx context.Context, name string) (string, error) {
	if value, ok := r.fields.Get(name); ok {
		r.logger.Debug("config field served from cache", zap.String("field", name))
		return value, nil
	}

	value, err := r.next.GetConfigField(ctx, name)
	if err != nil {
		return "", err
	}
	r.fields.Add(name, value)
	return value, nil
}

// Пустой набор не кэшируем: это может быть сбой чтения, а не реальное значение.
func (r *cachedConfigRepository) GetSupportedTokens(ctx context.Context) map[string]string {
	if tokens, ok := r.tokens.Get(supportedTokensK); ok {
		return copyTokens(tokens)
	}

	tokens := r.next.GetSupportedTokens(ctx)
	if len(tokens) > 0 {
		r.tokens.Add(supportedTokensK, copyTokens(tokens))
	}
	return tokens
}

func copyTokens(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var ErrConfigFieldNotFound = errors.New("config field not found")

// undefined_column
const pgUndefinedColumn = "42703"

var fieldNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ConfigRepository reads the single-row config table.
type ConfigRepository interface {
	GetConfigField(ctx context.Context, name string) (string, error)
	// GetSupportedTokens returns lowercase token address -> symbol.
	// Read failures yield an empty map, never an error.
	GetSupportedTokens(ctx context.Context) map[string]string
}

type configRepository struct {
	db     DB
	logger *zap.Logger
}

func NewConfigRepository(db DB, logger *zap.Logger) ConfigRepository {
	return &configRepository{
		db:     db,
		logger: logger,
	}
}

func (r *configRepository) GetConfigField(ctx context.Context, name string) (string, error) {
	if !fieldNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid field name %q", ErrConfigFieldNotFound, name)
	}

	query := fmt.Sprintf(`SELECT %s::text FROM config LIMIT 1`, pgx.Identifier{name}.Sanitize())

	var value *string
	err := r.db.QueryRow(ctx, query).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: config row is missing", ErrConfigFieldNotFound)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn {
			return "", fmt.Errorf("%w: %s", ErrConfigFieldNotFound, name)
		}
		r.logger.Error("failed to read config field", zap.String("field", name), zap.Error(err))
		return "", fmt.Errorf("failed to read config field %s: %w", name, err)
	}

	if value == nil || strings.TrimSpace(*value) == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrConfigFieldNotFound, name)
	}
	return strings.TrimSpace(*value), nil
}

func (r *configRepository) GetSupportedTokens(ctx context.Context) map[string]string {
	tokens := make(map[string]string)

	var raw *string
	err := r.db.QueryRow(ctx, `SELECT supported_tokens::text FROM config LIMIT 1`).Scan(&raw)
	if err != nil {
		r.logger.Error("failed to fetch supported tokens", zap.Error(err))
		return tokens
	}
	if raw == nil {
		return tokens
	}
	if !gjson.Valid(*raw) {
		r.logger.Error("supported_tokens is not valid JSON")
		return tokens
	}

	parsed := gjson.Parse(*raw)
	if !parsed.IsObject() {
		r.logger.Error("supported_tokens is not a JSON object", zap.String("type", parsed.Type.String()))
		return tokens
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		tokens[strings.ToLower(key.String())] = value.String()
		return true
	})

	r.logger.Debug("supported tokens loaded", zap.Int("count", len(tokens)))
	return tokens
}

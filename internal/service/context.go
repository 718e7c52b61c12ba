package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payment_verifier/internal/repository"
	"payment_verifier/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VerificationContext holds everything needed to judge one transaction.
// Only ErrorDetails changes after Build.
type VerificationContext struct {
	TxHash             string
	ExpectedAmount     decimal.Decimal
	DestinationAddress string
	SupportedTokens    map[string]string
	OrderCreatedAtMs   int64
	Target             types.UpdateTarget
	ErrorDetails       string
}

// reject records err as the latest rejection reason and returns it.
func (vc *VerificationContext) reject(err error) error {
	vc.ErrorDetails = err.Error()
	return err
}

type ContextBuilder interface {
	Build(ctx context.Context, req types.VerificationRequest) (*VerificationContext, error)
}

type contextBuilder struct {
	config repository.ConfigRepository
	logger *zap.Logger
}

func NewContextBuilder(config repository.ConfigRepository, logger *zap.Logger) ContextBuilder {
	return &contextBuilder{
		config: config,
		logger: logger,
	}
}

func (b *contextBuilder) Build(ctx context.Context, req types.VerificationRequest) (*VerificationContext, error) {
	destination, err := b.config.GetConfigField(ctx, req.DestinationField)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot resolve %s: %w", ErrConfiguration, req.DestinationField, err)
	}
	if !common.IsHexAddress(destination) {
		return nil, fmt.Errorf("%w: %s is not an address: %q", ErrConfiguration, req.DestinationField, destination)
	}

	tokens := b.config.GetSupportedTokens(ctx)
	if len(tokens) == 0 {
		b.logger.Warn("no supported tokens configured, every transfer will be rejected", zap.String("tx_hash", req.TxHash))
	}

	createdAtMs, err := ParseOrderTimestamp(req.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &VerificationContext{
		TxHash:             req.TxHash,
		ExpectedAmount:     req.ExpectedAmount,
		DestinationAddress: strings.ToLower(destination),
		SupportedTokens:    tokens,
		OrderCreatedAtMs:   createdAtMs,
		Target:             req.Target,
	}, nil
}

// Форматы, в которых created_at приходит от клиентов и из Postgres.
// Время без зоны считается UTC.
var orderTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseOrderTimestamp converts an order creation time into epoch milliseconds.
func ParseOrderTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	for _, layout := range orderTimestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

package service

import (
	"context"
	"fmt"
	"time"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type TimestampValidator interface {
	Validate(ctx context.Context, receipt *ethTypes.Receipt, orderCreatedAtMs int64) error
}

type timestampValidator struct {
	chain     ChainReader
	threshold time.Duration
	logger    *zap.Logger
}

func NewTimestampValidator(chain ChainReader, threshold time.Duration, logger *zap.Logger) TimestampValidator {
	return &timestampValidator{
		chain:     chain,
		threshold: threshold,
		logger:    logger,
	}
}

// Validate rejects a transaction whose block time differs from the order
// creation time by more than the threshold, in either direction.
func (v *timestampValidator) Validate(ctx context.Context, receipt *ethTypes.Receipt, orderCreatedAtMs int64) error {
	if receipt == nil || receipt.BlockNumber == nil {
		return fmt.Errorf("%w: receipt has no block", ErrBlockUnavailable)
	}

	number := receipt.BlockNumber.Uint64()
	blockTime, err := v.chain.BlockTime(ctx, number)
	if err != nil {
		return fmt.Errorf("%w: block %d: %w", ErrBlockUnavailable, number, err)
	}
	if blockTime == 0 {
		return fmt.Errorf("%w: block %d has no timestamp", ErrBlockUnavailable, number)
	}

	blockMs := int64(blockTime) * 1000
	diff := blockMs - orderCreatedAtMs
	if diff < 0 {
		diff = -diff
	}

	if diff > v.threshold.Milliseconds() {
		v.logger.Warn("stale transaction",
			zap.String("tx_hash", receipt.TxHash.Hex()),
			zap.Uint64("block", number),
			zap.Duration("diff", time.Duration(diff)*time.Millisecond),
			zap.Duration("threshold", v.threshold))
		return fmt.Errorf("%w: block time differs by %s, allowed %s",
			ErrStaleTransaction, time.Duration(diff)*time.Millisecond, v.threshold)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment_verifier/internal/chain"
	"payment_verifier/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

type WaiterConfig struct {
	MaxWait       time.Duration
	GracePeriod   time.Duration
	PollInterval  time.Duration
	Confirmations uint64
}

type ConfirmationWaiter interface {
	// Wait blocks until txHash is mined with enough confirmations or MaxWait elapses.
	Wait(ctx context.Context, txHash string) (*ethTypes.Receipt, error)
}

type confirmationWaiter struct {
	chain  ChainReader
	cfg    WaiterConfig
	logger *zap.Logger
}

func NewConfirmationWaiter(chain ChainReader, cfg WaiterConfig, logger *zap.Logger) ConfirmationWaiter {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &confirmationWaiter{
		chain:  chain,
		cfg:    cfg,
		logger: logger,
	}
}

// Wait bounds every step, the first receipt lookup included, by MaxWait.
func (w *confirmationWaiter) Wait(ctx context.Context, txHash string) (*ethTypes.Receipt, error) {
	hash := common.HexToHash(txHash)
	log := w.logger.With(zap.String("tx_hash", txHash))

	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.MaxWait)
	defer cancel()

	// транзакция могла быть смайнена до начала ожидания
	if receipt, ok := w.check(waitCtx, hash, nil); ok {
		log.Info("transaction already confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return receipt, nil
	}

	if w.cfg.GracePeriod > 0 {
		timer := time.NewTimer(w.cfg.GracePeriod)
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			timer.Stop()
			return nil, w.notConfirmed(ctx, txHash)
		}
	}

	log.Info("waiting for transaction confirmation", zap.Duration("max_wait", w.cfg.MaxWait))
	receipt, err := w.await(waitCtx, hash, log)
	if err != nil {
		return nil, w.notConfirmed(ctx, txHash)
	}
	log.Info("transaction confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return receipt, nil
}

// notConfirmed отличает отмену вызывающим от истечения MaxWait.
func (w *confirmationWaiter) notConfirmed(parent context.Context, txHash string) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransactionNotConfirmed, txHash, err)
	}
	return fmt.Errorf("%w: %s not mined within %s", ErrTransactionNotConfirmed, txHash, w.cfg.MaxWait)
}

// await re-checks the receipt on every new head. Without a head subscription
// (plain HTTP endpoint, dropped websocket) it falls back to a ticker.
func (w *confirmationWaiter) await(ctx context.Context, hash common.Hash, log *zap.Logger) (*ethTypes.Receipt, error) {
	heads := make(chan *ethTypes.Header, 16)
	var subErr <-chan error

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	var tick <-chan time.Time

	sub, err := w.chain.SubscribeNewHead(ctx, heads)
	if err != nil {
		w.fallback(log, err)
		tick = ticker.C
	} else {
		defer sub.Unsubscribe()
		subErr = sub.Err()
	}

	// повторная проверка: блок мог прийти до подписки
	if receipt, ok := w.check(ctx, hash, nil); ok {
		return receipt, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case head := <-heads:
			var number *uint64
			if head != nil && head.Number != nil {
				n := head.Number.Uint64()
				number = &n
			}
			if receipt, ok := w.check(ctx, hash, number); ok {
				return receipt, nil
			}
		case err := <-subErr:
			if err == nil {
				err = errors.New("subscription closed")
			}
			w.fallback(log, err)
			subErr = nil
			tick = ticker.C
		case <-tick:
			if receipt, ok := w.check(ctx, hash, nil); ok {
				return receipt, nil
			}
		}
	}
}

func (w *confirmationWaiter) fallback(log *zap.Logger, err error) {
	reason := "error"
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		reason = "unsupported"
	}
	metrics.HeadSubscriptionFallbacks.WithLabelValues(reason).Inc()
	log.Debug("head subscription unavailable, polling", zap.Duration("interval", w.cfg.PollInterval), zap.Error(err))
}

// check reports whether the receipt exists and has the required confirmations.
// head is the latest known block number, fetched when nil and needed.
func (w *confirmationWaiter) check(ctx context.Context, hash common.Hash, head *uint64) (*ethTypes.Receipt, bool) {
	receipt, err := w.chain.TransactionReceipt(ctx, hash)
	if err != nil {
		if !chain.IsNotFound(err) && ctx.Err() == nil {
			w.logger.Warn("failed to fetch receipt", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		return nil, false
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, false
	}
	if w.cfg.Confirmations <= 1 {
		return receipt, true
	}

	var latest uint64
	if head != nil {
		latest = *head
	} else {
		latest, err = w.chain.BlockNumber(ctx)
		if err != nil {
			return nil, false
		}
	}
	mined := receipt.BlockNumber.Uint64()
	if mined+w.cfg.Confirmations-1 > latest {
		return nil, false
	}
	return receipt, true
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"payment_verifier/internal/metrics"
)

type Config struct {
	Network      string
	RPCURL       string
	WSURL        string
	RPS          float64
	Burst        int
	DialAttempts uint64
}

// Client is a read-only EVM node client. Head subscriptions go through the
// websocket endpoint when one is configured; plain HTTP endpoints return
// rpc.ErrNotificationsUnsupported and callers are expected to poll.
type Client struct {
	network   string
	logger    *zap.Logger
	client    *ethclient.Client
	rawClient *rpc.Client
	wsClient  *ethclient.Client
	limiter   *rate.Limiter
}

func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rawClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}

	c := newClient(cfg, rawClient, logger)

	var chainID *big.Int
	op := func() error {
		id, err := c.client.ChainID(ctx)
		if err != nil {
			logger.Warn("chain rpc not reachable yet", zap.String("network", cfg.Network), zap.Error(err))
			return err
		}
		chainID = id
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.DialAttempts), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		rawClient.Close()
		return nil, fmt.Errorf("failed to reach chain rpc: %w", err)
	}

	if cfg.WSURL != "" {
		ws, err := ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			rawClient.Close()
			return nil, fmt.Errorf("failed to dial chain websocket: %w", err)
		}
		c.wsClient = ws
	}

	logger.Info("connected to chain",
		zap.String("network", cfg.Network),
		zap.String("chain_id", chainID.String()),
		zap.Bool("websocket", c.wsClient != nil))
	return c, nil
}

func newClient(cfg Config, rawClient *rpc.Client, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		network:   cfg.Network,
		logger:    logger,
		client:    ethclient.NewClient(rawClient),
		rawClient: rawClient,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

func (c *Client) NetworkName() string {
	return c.network
}

// wait blocks until the limiter hands out a token or ctx is done.
func (c *Client) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	metrics.RPCRateLimitWaits.WithLabelValues(c.network).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (c *Client) record(method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(c.network, method, ClassifyRPCError(err)).Inc()
}

// TransactionReceipt returns ethereum.NotFound while the transaction is not mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	c.record("eth_getTransactionReceipt", err)
	return receipt, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	number, err := c.client.BlockNumber(ctx)
	c.record("eth_blockNumber", err)
	return number, err
}

// BlockTime reads the block timestamp (unix seconds) with a raw call, so
// chains whose full headers go-ethereum cannot decode still work.
func (c *Client) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	type blockTime struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}

	var block *blockTime
	err := c.rawClient.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	c.record("eth_getBlockByNumber", err)
	if err != nil {
		return 0, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if block == nil {
		return 0, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	return uint64(block.Timestamp), nil
}

func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	client := c.client
	if c.wsClient != nil {
		client = c.wsClient
	}
	sub, err := client.SubscribeNewHead(ctx, ch)
	c.record("eth_subscribe", err)
	return sub, err
}

func (c *Client) Close() {
	if c.wsClient != nil {
		c.wsClient.Close()
	}
	c.rawClient.Close()
	c.logger.Info("chain connection closed", zap.String("network", c.network))
}

// IsNotFound reports whether err means the receipt or block does not exist yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

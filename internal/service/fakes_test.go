package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment_verifier/internal/chain"
	"payment_verifier/internal/repository"
	"payment_verifier/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/shopspring/decimal"
)

const (
	testTxHash   = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	usdtAddress  = "0xc2132D05D31c914a87C6611C10748AEb04B58e8F"
	usdcAddress  = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
	taxWallet    = "0x2222222222222222222222222222222222222222"
	otherWallet  = "0x3333333333333333333333333333333333333333"
	payerAddress = "0x1111111111111111111111111111111111111111"
	fakeToken    = "0x9999999999999999999999999999999999999999"
)

// fakeChain управляет квитанциями, временем блоков и потоком заголовков.
type fakeChain struct {
	mu           sync.Mutex
	receipts     map[common.Hash]*ethTypes.Receipt
	blockTimes   map[uint64]uint64
	head         uint64
	blockErr     error
	subscribeErr error
	receiptHook  func(hash common.Hash)
	feed         event.Feed

	// узел принимает запрос и не отвечает, пока не отменён ctx
	stallReceipts  bool
	stallBlockTime bool

	receiptCalls   atomic.Int32
	blockTimeCalls atomic.Int32
	subscriptions  atomic.Int32
	unsubscribed   atomic.Int32
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipts:   make(map[common.Hash]*ethTypes.Receipt),
		blockTimes: make(map[uint64]uint64),
	}
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethTypes.Receipt, error) {
	c.receiptCalls.Add(1)
	if c.stallReceipts {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.receiptHook != nil {
		c.receiptHook(hash)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	c.blockTimeCalls.Add(1)
	if c.stallBlockTime {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockErr != nil {
		return 0, c.blockErr
	}
	ts, ok := c.blockTimes[number]
	if !ok {
		return 0, ethereum.NotFound
	}
	return ts, nil
}

func (c *fakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *ethTypes.Header) (ethereum.Subscription, error) {
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	c.subscriptions.Add(1)
	return &trackedSubscription{Subscription: c.feed.Subscribe(ch), counter: &c.unsubscribed}, nil
}

// mine stores the receipt, moves the head to its block and announces the head.
func (c *fakeChain) mine(r *ethTypes.Receipt, blockTime uint64) {
	n := r.BlockNumber.Uint64()
	c.mu.Lock()
	c.receipts[r.TxHash] = r
	c.blockTimes[n] = blockTime
	if n > c.head {
		c.head = n
	}
	c.mu.Unlock()
	c.feed.Send(&ethTypes.Header{Number: new(big.Int).SetUint64(n)})
}

// store adds a receipt without announcing a head.
func (c *fakeChain) store(r *ethTypes.Receipt, blockTime uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[r.TxHash] = r
	c.blockTimes[r.BlockNumber.Uint64()] = blockTime
	if r.BlockNumber.Uint64() > c.head {
		c.head = r.BlockNumber.Uint64()
	}
}

func (c *fakeChain) advanceHead(n uint64) {
	c.mu.Lock()
	c.head = n
	c.mu.Unlock()
	c.feed.Send(&ethTypes.Header{Number: new(big.Int).SetUint64(n)})
}

type trackedSubscription struct {
	event.Subscription
	once    sync.Once
	counter *atomic.Int32
}

func (s *trackedSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.Subscription.Unsubscribe()
		s.counter.Add(1)
	})
}

// Mock для ConfigRepository
type fakeConfig struct {
	fields map[string]string
	tokens map[string]string
	stall  bool
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		fields: map[string]string{
			types.DestinationTaxWallet:          taxWallet,
			types.DestinationSubscriptionWallet: taxWallet,
			types.DestinationPreOrderWallet:     taxWallet,
		},
		tokens: map[string]string{
			strings.ToLower(usdtAddress): "USDT",
			strings.ToLower(usdcAddress): "USDC",
		},
	}
}

func (c *fakeConfig) GetConfigField(ctx context.Context, name string) (string, error) {
	if c.stall {
		<-ctx.Done()
		return "", fmt.Errorf("failed to read config field %s: %w", name, ctx.Err())
	}
	value, ok := c.fields[name]
	if !ok {
		return "", repository.ErrConfigFieldNotFound
	}
	return value, nil
}

func (c *fakeConfig) GetSupportedTokens(ctx context.Context) map[string]string {
	out := make(map[string]string, len(c.tokens))
	for k, v := range c.tokens {
		out[k] = v
	}
	return out
}

type statusUpdate struct {
	target types.UpdateTarget
	txHash string
}

// Mock для StatusRepository
type fakeStatusRepository struct {
	mu      sync.Mutex
	updates []statusUpdate
	err     error
}

func (r *fakeStatusRepository) UpdateStatus(ctx context.Context, target types.UpdateTarget, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, statusUpdate{target: target, txHash: txHash})
	return nil
}

func (r *fakeStatusRepository) all() []statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusUpdate(nil), r.updates...)
}

// Mock для TransactionLogRepository
type fakeLedger struct {
	mu      sync.Mutex
	entries []types.TransactionLog
	err     error
}

func (l *fakeLedger) InsertErrorLog(ctx context.Context, txHash, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, types.TransactionLog{TxHash: txHash, Result: message})
	return nil
}

func (l *fakeLedger) ListByTxHash(ctx context.Context, txHash string, limit int) ([]types.TransactionLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.TransactionLog, 0)
	for _, e := range l.entries {
		if e.TxHash == txHash {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) all() []types.TransactionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.TransactionLog(nil), l.entries...)
}

// Mock для NATSClient
type fakeNATS struct {
	mu       sync.Mutex
	outcomes []*types.VerificationOutcome
	err      error
}

func (n *fakeNATS) PublishVerificationCompleted(ctx context.Context, outcome *types.VerificationOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, outcome)
	return n.err
}

func (n *fakeNATS) SubscribeToVerificationCompleted(ctx context.Context, handler func(*types.VerificationOutcome)) error {
	return nil
}

func (n *fakeNATS) Close() {}

func (n *fakeNATS) all() []*types.VerificationOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.VerificationOutcome(nil), n.outcomes...)
}

// units переводит человеческую сумму в минимальные единицы токена с 6 знаками.
func units(amount string) *big.Int {
	return decimal.RequireFromString(amount).Shift(6).BigInt()
}

func transferLog(token, to string, amount *big.Int) *ethTypes.Log {
	return &ethTypes.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			chain.TransferTopic(),
			common.BytesToHash(common.HexToAddress(payerAddress).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func approvalLog(token string) *ethTypes.Log {
	return &ethTypes.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			common.HexToHash("0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"),
			common.BytesToHash(common.HexToAddress(payerAddress).Bytes()),
			common.BytesToHash(common.HexToAddress(taxWallet).Bytes()),
		},
		Data: common.LeftPadBytes(big.NewInt(1).Bytes(), 32),
	}
}

func minedReceipt(txHash string, block uint64, logs ...*ethTypes.Log) *ethTypes.Receipt {
	for i, l := range logs {
		l.Index = uint(i)
		l.TxHash = common.HexToHash(txHash)
	}
	return &ethTypes.Receipt{
		Status:      ethTypes.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash(txHash),
		BlockNumber: new(big.Int).SetUint64(block),
		Logs:        logs,
	}
}

// waitFor опрашивает cond, пока он не станет true, или падает по таймауту.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap/zaptest"
)

func testWaiterConfig() WaiterConfig {
	return WaiterConfig{
		MaxWait:       500 * time.Millisecond,
		GracePeriod:   10 * time.Millisecond,
		PollInterval:  20 * time.Millisecond,
		Confirmations: 1,
	}
}

type waitResult struct {
	receipt *ethTypes.Receipt
	err     error
}

func startWait(t *testing.T, waiter ConfirmationWaiter) <-chan waitResult {
	t.Helper()
	done := make(chan waitResult, 1)
	go func() {
		r, err := waiter.Wait(context.Background(), testTxHash)
		done <- waitResult{receipt: r, err: err}
	}()
	return done
}

func expectReceipt(t *testing.T, done <-chan waitResult, block uint64) {
	t.Helper()
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if got := res.receipt.BlockNumber.Uint64(); got != block {
			t.Errorf("expected receipt in block %d, but got %d", block, got)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not return the receipt")
	}
}

func TestConfirmationWaiter_AlreadyMined(t *testing.T) {
	chain := newFakeChain()
	chain.store(minedReceipt(testTxHash, 10), 1)

	waiter := NewConfirmationWaiter(chain, testWaiterConfig(), zaptest.NewLogger(t))
	receipt, err := waiter.Wait(context.Background(), testTxHash)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.BlockNumber.Uint64() != 10 {
		t.Errorf("expected block 10, but got %d", receipt.BlockNumber.Uint64())
	}
	if n := chain.subscriptions.Load(); n != 0 {
		t.Errorf("expected no subscription for a mined transaction, but got %d", n)
	}
}

func TestConfirmationWaiter_MinedAfterSubscription(t *testing.T) {
	chain := newFakeChain()
	waiter := NewConfirmationWaiter(chain, testWaiterConfig(), zaptest.NewLogger(t))

	done := startWait(t, waiter)

	waitFor(t, "head subscription", func() bool { return chain.subscriptions.Load() == 1 })
	chain.mine(minedReceipt(testTxHash, 11), 1)

	expectReceipt(t, done, 11)
	if n := chain.unsubscribed.Load(); n != 1 {
		t.Errorf("expected subscription to be released, but unsubscribed %d times", n)
	}
}

func TestConfirmationWaiter_PollingFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "http_endpoint", err: rpc.ErrNotificationsUnsupported},
		{name: "subscribe_failure", err: errors.New("websocket closed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.subscribeErr = tt.err
			waiter := NewConfirmationWaiter(chain, testWaiterConfig(), zaptest.NewLogger(t))

			done := startWait(t, waiter)

			waitFor(t, "receipt re-check", func() bool { return chain.receiptCalls.Load() >= 2 })
			chain.store(minedReceipt(testTxHash, 12), 1)

			expectReceipt(t, done, 12)
		})
	}
}

func TestConfirmationWaiter_Timeout(t *testing.T) {
	chain := newFakeChain()
	cfg := testWaiterConfig()
	cfg.MaxWait = 100 * time.Millisecond
	waiter := NewConfirmationWaiter(chain, cfg, zaptest.NewLogger(t))

	start := time.Now()
	_, err := waiter.Wait(context.Background(), testTxHash)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTransactionNotConfirmed) {
		t.Fatalf("expected %v, but got %v", ErrTransactionNotConfirmed, err)
	}
	if elapsed < cfg.MaxWait || elapsed > 2*time.Second {
		t.Errorf("expected to return after %s, but returned after %s", cfg.MaxWait, elapsed)
	}
	if chain.subscriptions.Load() != chain.unsubscribed.Load() {
		t.Errorf("subscription leaked after timeout: %d subscribed, %d released",
			chain.subscriptions.Load(), chain.unsubscribed.Load())
	}
}

func TestConfirmationWaiter_UnresponsiveNode(t *testing.T) {
	chain := newFakeChain()
	chain.stallReceipts = true
	cfg := testWaiterConfig()
	cfg.MaxWait = 150 * time.Millisecond
	waiter := NewConfirmationWaiter(chain, cfg, zaptest.NewLogger(t))

	done := startWait(t, waiter)

	select {
	case res := <-done:
		if !errors.Is(res.err, ErrTransactionNotConfirmed) {
			t.Errorf("expected %v, but got %v", ErrTransactionNotConfirmed, res.err)
		}
		if errors.Is(res.err, context.Canceled) {
			t.Errorf("timeout must not be reported as caller cancellation: %v", res.err)
		}
	case <-time.After(cfg.MaxWait + time.Second):
		t.Fatalf("Wait did not return after MaxWait=%s with a stalled node", cfg.MaxWait)
	}
}

func TestConfirmationWaiter_CallerCancellation(t *testing.T) {
	chain := newFakeChain()
	cfg := testWaiterConfig()
	cfg.GracePeriod = time.Second
	waiter := NewConfirmationWaiter(chain, cfg, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := waiter.Wait(ctx, testTxHash)
	if !errors.Is(err, ErrTransactionNotConfirmed) {
		t.Errorf("expected %v, but got %v", ErrTransactionNotConfirmed, err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected %v, but got %v", context.Canceled, err)
	}
}

func TestConfirmationWaiter_RequiresConfirmations(t *testing.T) {
	chain := newFakeChain()
	cfg := testWaiterConfig()
	cfg.Confirmations = 3
	waiter := NewConfirmationWaiter(chain, cfg, zaptest.NewLogger(t))

	chain.store(minedReceipt(testTxHash, 20), 1)
	done := startWait(t, waiter)

	waitFor(t, "head subscription", func() bool { return chain.subscriptions.Load() == 1 })

	chain.advanceHead(21)
	select {
	case <-done:
		t.Fatal("receipt accepted with 2 confirmations")
	case <-time.After(50 * time.Millisecond):
	}

	chain.advanceHead(22)
	expectReceipt(t, done, 20)
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "ok"},
		{name: "not found", err: ethereum.NotFound, want: "not_found"},
		{name: "wrapped not found", err: fmt.Errorf("block 1: %w", ethereum.NotFound), want: "not_found"},
		{name: "notifications", err: rpc.ErrNotificationsUnsupported, want: "unsupported"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "http 429", err: errors.New("429 Too Many Requests"), want: "rate_limited"},
		{name: "rate limit text", err: errors.New("rate limit exceeded"), want: "rate_limited"},
		{name: "timeout text", err: errors.New("i/o timeout"), want: "timeout"},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: "unavailable"},
		{name: "other", err: errors.New("execution reverted"), want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRPCError(tt.err))
		})
	}
}

package service

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainReader is the read-only chain access the pipeline needs; *chain.Client implements it.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethTypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *ethTypes.Header) (ethereum.Subscription, error)
}

// PendingSet deduplicates in-flight verifications by transaction hash.
type PendingSet interface {
	TryAcquire(ctx context.Context, txHash string) (bool, error)
	Release(ctx context.Context, txHash string) error
}

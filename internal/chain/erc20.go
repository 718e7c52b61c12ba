package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// event Transfer(address indexed from, address indexed to, uint256 value)
const erc20TransferABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}]`

const (
	evmWordLength       = 32
	transferTopicsCount = 3
)

var ErrNotTransfer = errors.New("log is not an ERC20 Transfer event")

var transferEvent = mustTransferEvent()

func mustTransferEvent() abi.Event {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(err)
	}
	return parsed.Events["Transfer"]
}

// TransferTopic is keccak256("Transfer(address,address,uint256)").
func TransferTopic() common.Hash {
	return transferEvent.ID
}

type Transfer struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Amount   *big.Int
	LogIndex uint
}

// AmountIn converts the raw token amount into human units.
func (t *Transfer) AmountIn(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(t.Amount, -decimals)
}

func (t *Transfer) String() string {
	return fmt.Sprintf("Transfer{token=%s from=%s to=%s amount=%s logIndex=%d}",
		t.Token.Hex(), t.From.Hex(), t.To.Hex(), t.Amount.String(), t.LogIndex)
}

// ParseTransfer decodes an ERC20 Transfer log. Any log that is not a
// well-formed ERC20 Transfer (other events, ERC721 transfers with an indexed
// token id) yields an error wrapping ErrNotTransfer.
func ParseTransfer(log *types.Log) (*Transfer, error) {
	if log == nil || len(log.Topics) == 0 || log.Topics[0] != transferEvent.ID {
		return nil, ErrNotTransfer
	}
	if len(log.Topics) != transferTopicsCount || len(log.Data) != evmWordLength {
		return nil, fmt.Errorf("%w: %d topics, %d data bytes", ErrNotTransfer, len(log.Topics), len(log.Data))
	}

	values, err := transferEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotTransfer, err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok || amount == nil {
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrNotTransfer, values[0])
	}

	return &Transfer{
		Token:    log.Address,
		From:     common.BytesToAddress(log.Topics[1].Bytes()),
		To:       common.BytesToAddress(log.Topics[2].Bytes()),
		Amount:   amount,
		LogIndex: log.Index,
	}, nil
}

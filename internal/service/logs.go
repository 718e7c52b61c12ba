package service

import (
	"errors"
	"fmt"
	"strings"

	"payment_verifier/internal/chain"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MatchedTransfer is the Transfer log accepted as the payment.
type MatchedTransfer struct {
	*chain.Transfer
	Symbol string
	Amount decimal.Decimal
}

type LogAnalyzer interface {
	Analyze(logs []*ethTypes.Log, vc *VerificationContext) (*MatchedTransfer, error)
}

type logAnalyzer struct {
	decimals  int32
	tolerance decimal.Decimal
	logger    *zap.Logger
}

func NewLogAnalyzer(decimals int32, tolerance decimal.Decimal, logger *zap.Logger) LogAnalyzer {
	return &logAnalyzer{
		decimals:  decimals,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Analyze scans logs in order. A wrong token or recipient only disqualifies
// that log; a short amount on the right token and recipient ends the scan,
// since that log is taken to be the intended payment.
func (a *logAnalyzer) Analyze(logs []*ethTypes.Log, vc *VerificationContext) (*MatchedTransfer, error) {
	minimum := vc.ExpectedAmount.Sub(a.tolerance)
	var lastErr error

	for _, l := range logs {
		if l == nil || l.Removed {
			continue
		}
		transfer, err := chain.ParseTransfer(l)
		if err != nil {
			if !errors.Is(err, chain.ErrNotTransfer) {
				a.logger.Debug("failed to parse log", zap.Uint("index", l.Index), zap.Error(err))
			}
			continue
		}

		token := strings.ToLower(transfer.Token.Hex())
		symbol, ok := vc.SupportedTokens[token]
		if !ok {
			lastErr = vc.reject(fmt.Errorf("%w: %s", ErrUnsupportedToken, token))
			continue
		}

		if !strings.EqualFold(transfer.To.Hex(), vc.DestinationAddress) {
			lastErr = vc.reject(fmt.Errorf("%w: expected %s, got %s",
				ErrWrongRecipient, vc.DestinationAddress, strings.ToLower(transfer.To.Hex())))
			continue
		}

		amount := transfer.AmountIn(a.decimals)
		if amount.LessThan(minimum) {
			return nil, vc.reject(fmt.Errorf("%w: expected %s, got %s",
				ErrInsufficientAmount, vc.ExpectedAmount.String(), amount.String()))
		}

		a.logger.Debug("transfer matched",
			zap.String("tx_hash", vc.TxHash),
			zap.String("token", symbol),
			zap.String("amount", amount.String()),
			zap.Uint("log_index", transfer.LogIndex))
		return &MatchedTransfer{Transfer: transfer, Symbol: symbol, Amount: amount}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoValidTransfer
}

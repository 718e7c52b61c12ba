package service

import "errors"

// Ошибки конвейера проверки. Возвращаются обёрнутыми через %w, сравнивать через errors.Is.
var (
	ErrInvalidRequest          = errors.New("invalid verification request")
	ErrConfiguration           = errors.New("configuration error")
	ErrInvalidTimestamp        = errors.New("invalid order creation timestamp")
	ErrTransactionNotConfirmed = errors.New("transaction not confirmed")
	ErrTransactionReverted     = errors.New("transaction reverted")
	ErrBlockUnavailable        = errors.New("unable to get block timestamp")
	ErrStaleTransaction        = errors.New("transaction on blockchain is too old compared to order timestamp")
	ErrUnsupportedToken        = errors.New("unsupported token")
	ErrWrongRecipient          = errors.New("wrong recipient")
	ErrInsufficientAmount      = errors.New("insufficient amount")
	ErrNoValidTransfer         = errors.New("no valid transfer log")
	ErrVerificationTimeout     = errors.New("verification deadline exceeded")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrVerificationTimeout, "timeout"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrConfiguration, "configuration"},
	{ErrInvalidTimestamp, "invalid_timestamp"},
	{ErrTransactionNotConfirmed, "not_confirmed"},
	{ErrTransactionReverted, "reverted"},
	{ErrBlockUnavailable, "block_unavailable"},
	{ErrStaleTransaction, "stale"},
	{ErrUnsupportedToken, "unsupported_token"},
	{ErrWrongRecipient, "wrong_recipient"},
	{ErrInsufficientAmount, "insufficient_amount"},
	{ErrNoValidTransfer, "no_valid_transfer"},
}

// Reason maps a verification error to a metric label.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

// IsRejection reports whether err is a verdict about the payment or the
// request, as opposed to a misconfigured or failing backend.
func IsRejection(err error) bool {
	switch Reason(err) {
	case "configuration", "internal", "block_unavailable", "timeout":
		return false
	}
	return true
}

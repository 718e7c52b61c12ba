package types

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Destination fields: columns of the config table holding receiving wallets.
const (
	DestinationTaxWallet          = "tax_wallet"
	DestinationSubscriptionWallet = "subscription_wallet"
	DestinationPreOrderWallet     = "pre_order_wallet"
)

type SubscriptionStatus string

const (
	SubscriptionStatusEnabled    SubscriptionStatus = "ENABLED"
	SubscriptionStatusDisabled   SubscriptionStatus = "DISABLED"
	SubscriptionStatusConfirming SubscriptionStatus = "CONFIRMING"
)

type OrderStatus string

const (
	OrderStatusAwaitingTax               OrderStatus = "AWAITING_TAX"
	OrderStatusAwaitingPayment           OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPreorderPaymentConfirmed  OrderStatus = "PREORDER_PAYMENT_CONFIRMED"
	OrderStatusPreorderPaymentConfirming OrderStatus = "PREORDER_PAYMENT_CONFIRMING"
	OrderStatusOrderConfirmed            OrderStatus = "ORDER_CONFIRMED"
)

type TargetKind string

const (
	TargetSubscriptionPayment  TargetKind = "subscription_payment"
	TargetPreOrderPayment      TargetKind = "pre_order_payment"
	TargetMultiPreOrderPayment TargetKind = "multi_pre_order_payment"
	TargetTaxOrderPayment      TargetKind = "tax_order_payment"
)

// UpdateTarget is the row update applied after a successful verification.
// The kind fixes table and columns; only the status value varies.
type UpdateTarget struct {
	Kind   TargetKind
	Status string
}

func SubscriptionPayment(status SubscriptionStatus) UpdateTarget {
	return UpdateTarget{Kind: TargetSubscriptionPayment, Status: string(status)}
}

func PreOrderPayment(status OrderStatus) UpdateTarget {
	return UpdateTarget{Kind: TargetPreOrderPayment, Status: string(status)}
}

func MultiPreOrderPayment(status OrderStatus) UpdateTarget {
	return UpdateTarget{Kind: TargetMultiPreOrderPayment, Status: string(status)}
}

func TaxOrderPayment(status OrderStatus) UpdateTarget {
	return UpdateTarget{Kind: TargetTaxOrderPayment, Status: string(status)}
}

type targetColumns struct {
	table      string
	status     string
	identifier string
}

var targetLayout = map[TargetKind]targetColumns{
	TargetSubscriptionPayment:  {table: "subscription", status: "status", identifier: "payment_tx"},
	TargetPreOrderPayment:      {table: "orders", status: "status", identifier: "pre_order_payment_tx"},
	TargetMultiPreOrderPayment: {table: "orders", status: "status", identifier: "pre_order_payment_tx"},
	TargetTaxOrderPayment:      {table: "orders", status: "status", identifier: "tax_order_payment_tx"},
}

func (t UpdateTarget) Validate() error {
	if _, ok := targetLayout[t.Kind]; !ok {
		return fmt.Errorf("unknown update target kind %q", t.Kind)
	}
	if t.Status == "" {
		return fmt.Errorf("update target %s has empty status", t.Kind)
	}
	return nil
}

func (t UpdateTarget) Table() string            { return targetLayout[t.Kind].table }
func (t UpdateTarget) StatusColumn() string     { return targetLayout[t.Kind].status }
func (t UpdateTarget) IdentifierColumn() string { return targetLayout[t.Kind].identifier }

func (t UpdateTarget) String() string {
	return fmt.Sprintf("%s.%s=%s by %s", t.Table(), t.StatusColumn(), t.Status, t.IdentifierColumn())
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex transaction hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// VerificationRequest is built by the HTTP layer from an already validated body.
type VerificationRequest struct {
	TxHash           string
	ExpectedAmount   decimal.Decimal
	DestinationField string
	CreatedAt        string
	Target           UpdateTarget
}

type VerificationOutcome struct {
	VerificationID string    `json:"verification_id"`
	TxHash         string    `json:"tx_hash"`
	Target         string    `json:"target"`
	Status         string    `json:"status"`
	Amount         string    `json:"amount,omitempty"`
	Token          string    `json:"token,omitempty"`
	BlockNumber    uint64    `json:"block_number,omitempty"`
	Error          string    `json:"error,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

const (
	OutcomeVerified = "VERIFIED"
	OutcomeFailed   = "FAILED"
)

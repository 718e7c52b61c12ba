package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"payment_verifier/internal/service"
	"payment_verifier/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// payment: поля запроса после валидации, общие для всех маршрутов.
type payment struct {
	TxHash    string
	Amount    decimal.Decimal
	CreatedAt string
	Fields    []zap.Field
}

type decodeFunc func(body []byte) (*payment, []string, error)

type verifyRoute struct {
	path        string
	destination string
	target      types.UpdateTarget
	decode      decodeFunc
}

var verifyRoutes = []verifyRoute{
	{
		path:        "/verify-subscription-payment",
		destination: types.DestinationSubscriptionWallet,
		target:      types.SubscriptionPayment(types.SubscriptionStatusEnabled),
		decode:      decodePayment(false),
	},
	{
		path:        "/verify-single-pre-order-payment-stablecoin",
		destination: types.DestinationPreOrderWallet,
		target:      types.PreOrderPayment(types.OrderStatusAwaitingTax),
		decode:      decodePayment(true),
	},
	{
		path:        "/verify-multi-pre-order-payment-stablecoin",
		destination: types.DestinationPreOrderWallet,
		target:      types.MultiPreOrderPayment(types.OrderStatusPreorderPaymentConfirmed),
		decode:      decodeMultiPreOrder,
	},
	{
		path:        "/verify-tax-payment-stablecoin",
		destination: types.DestinationTaxWallet,
		target:      types.TaxOrderPayment(types.OrderStatusOrderConfirmed),
		decode:      decodePayment(false),
	},
}

type paymentBody struct {
	PaymentTx string          `json:"payment_tx"`
	Price     json.RawMessage `json:"price"`
	CreatedAt string          `json:"created_at"`
	BasketID  any             `json:"basket_id"`
}

type multiPreOrderBody struct {
	PreOrderPaymentTx string          `json:"pre_order_payment_tx"`
	PreOrderAmount    json.RawMessage `json:"pre_order_amount"`
	ModifiedAt        string          `json:"modified_at"`
	OrderID           any             `json:"order_id"`
	BasketIDs         []any           `json:"basket_ids"`
}

func decodePayment(requireBasket bool) decodeFunc {
	return func(body []byte) (*payment, []string, error) {
		var b paymentBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, nil, err
		}

		var p payment
		errs := p.validate(b.PaymentTx, "payment_tx", b.Price, "price", b.CreatedAt, "created_at")
		if requireBasket {
			if isBlank(b.BasketID) {
				errs = append(errs, "Invalid or missing 'basket_id'")
			} else {
				p.Fields = append(p.Fields, zap.Any("basket_id", b.BasketID))
			}
		}
		return &p, errs, nil
	}
}

func decodeMultiPreOrder(body []byte) (*payment, []string, error) {
	var b multiPreOrderBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, nil, err
	}

	var p payment
	errs := p.validate(b.PreOrderPaymentTx, "pre_order_payment_tx", b.PreOrderAmount, "pre_order_amount", b.ModifiedAt, "modified_at")
	if isBlank(b.OrderID) {
		errs = append(errs, "Invalid or missing 'order_id'")
	}
	if len(b.BasketIDs) == 0 {
		errs = append(errs, "Invalid or missing 'basket_ids'")
	}
	p.Fields = append(p.Fields, zap.Any("order_id", b.OrderID), zap.Any("basket_ids", b.BasketIDs))
	return &p, errs, nil
}

// validate заполняет p и возвращает сообщения об ошибках в формате "Invalid or missing '<field>'".
func (p *payment) validate(tx, txField string, amount json.RawMessage, amountField string, createdAt, createdAtField string) []string {
	var errs []string

	p.TxHash = strings.TrimSpace(tx)
	if !types.IsTxHash(p.TxHash) {
		errs = append(errs, missing(txField))
	}

	value, err := parseAmount(amount)
	if err != nil || !value.IsPositive() {
		errs = append(errs, missing(amountField))
	}
	p.Amount = value

	ms, err := service.ParseOrderTimestamp(createdAt)
	if err != nil {
		errs = append(errs, missing(createdAtField))
	} else {
		p.CreatedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
	}
	return errs
}

// parseAmount принимает сумму и числом, и строкой.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, fmt.Errorf("amount is missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	return decimal.NewFromString(string(raw))
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func missing(field string) string {
	return fmt.Sprintf("Invalid or missing '%s'", field)
}

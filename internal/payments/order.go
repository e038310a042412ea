package payments

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OrderKind discriminates what an order buys. It travels inside the
// provider's order_id as an explicit token; account ids are opaque and
// never carry intent.
type OrderKind string

const (
	OrderLicense  OrderKind = "lic"
	OrderRecharge OrderKind = "rchg"
)

// OrderRef correlates a provider invoice back to an account and an intent.
// The nonce keeps repeated purchases by the same account distinct.
type OrderRef struct {
	Kind      OrderKind
	AccountID string
	Nonce     string
}

// NewOrderRef builds a reference with a fresh nonce.
func NewOrderRef(kind OrderKind, accountID string) OrderRef {
	return OrderRef{
		Kind:      kind,
		AccountID: accountID,
		Nonce:     uuid.NewString(),
	}
}

// Encode renders the reference as the provider-facing order_id.
func (r OrderRef) Encode() string {
	return fmt.Sprintf("%s:%s:%s", r.Kind, r.AccountID, r.Nonce)
}

// ParseOrderRef decodes an order_id. The kind token must match exactly;
// anything else is rejected rather than guessed at.
func ParseOrderRef(orderID string) (OrderRef, error) {
	parts := strings.SplitN(orderID, ":", 3)
	if len(parts) != 3 {
		return OrderRef{}, fmt.Errorf("malformed order id %q", orderID)
	}

	kind := OrderKind(parts[0])
	switch kind {
	case OrderLicense, OrderRecharge:
	default:
		return OrderRef{}, fmt.Errorf("unknown order kind %q in order id %q", parts[0], orderID)
	}

	if parts[1] == "" {
		return OrderRef{}, fmt.Errorf("missing account id in order id %q", orderID)
	}
	if parts[2] == "" {
		return OrderRef{}, fmt.Errorf("missing nonce in order id %q", orderID)
	}

	return OrderRef{Kind: kind, AccountID: parts[1], Nonce: parts[2]}, nil
}

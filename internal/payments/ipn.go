package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/zestbot/zest/internal/reconcile"
)

// SignatureHeader carries the provider's HMAC of the callback body.
const SignatureHeader = "x-nowpayments-sig"

// IPNPayload is the subset of the provider callback this service consumes.
type IPNPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PriceAmount   float64     `json:"price_amount"`
	PayAmount     float64     `json:"pay_amount"`
	PriceCurrency string      `json:"price_currency"`
}

// ParseIPN validates the raw callback body into a payload. Anything that
// fails here is rejected at the boundary with no state change.
func ParseIPN(body []byte) (IPNPayload, error) {
	var payload IPNPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return IPNPayload{}, fmt.Errorf("parse callback body: %w", err)
	}
	if payload.PaymentStatus == "" {
		return IPNPayload{}, fmt.Errorf("callback missing payment_status")
	}
	if payload.OrderID == "" {
		return IPNPayload{}, fmt.Errorf("callback missing order_id")
	}
	if payload.PaymentID.String() == "" {
		return IPNPayload{}, fmt.Errorf("callback missing payment_id")
	}
	return payload, nil
}

// Event resolves the payload into a payment event: the order reference
// yields the account and the kind, the provider status collapses into the
// three-state event status. Only "finished" and "confirmed" confirm.
func (p IPNPayload) Event() (reconcile.PaymentEvent, error) {
	ref, err := ParseOrderRef(p.OrderID)
	if err != nil {
		return reconcile.PaymentEvent{}, err
	}

	var kind reconcile.Kind
	switch ref.Kind {
	case OrderLicense:
		kind = reconcile.KindLicensePurchase
	case OrderRecharge:
		kind = reconcile.KindCreditRecharge
	}

	amount := int64(math.Round(p.PriceAmount))

	return reconcile.PaymentEvent{
		AccountID:    ref.AccountID,
		Kind:         kind,
		Amount:       amount,
		Status:       eventStatus(p.PaymentStatus),
		ProviderTxID: p.PaymentID.String(),
	}, nil
}

func eventStatus(providerStatus string) reconcile.EventStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "finished", "confirmed":
		return reconcile.StatusConfirmed
	case "failed", "refunded", "expired":
		return reconcile.StatusFailed
	default:
		// waiting, confirming, sending, partially_paid, ...
		return reconcile.StatusPending
	}
}

// VerifySignature checks the provider HMAC over the callback body: the
// body's JSON object re-marshaled with sorted keys, HMAC-SHA512 with the
// shared IPN secret, hex encoded. An empty secret disables the check.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	// encoding/json sorts map keys, matching the provider's sorted-key
	// serialization.
	sorted, err := json.Marshal(fields)
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

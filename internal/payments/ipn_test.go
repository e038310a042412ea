package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zestbot/zest/internal/reconcile"
)

func TestParseIPN(t *testing.T) {
	body := []byte(`{
		"payment_id": 5077125931,
		"payment_status": "finished",
		"order_id": "rchg:42:abc",
		"price_amount": 20,
		"pay_amount": 21.5,
		"price_currency": "eur"
	}`)

	payload, err := ParseIPN(body)
	require.NoError(t, err)
	assert.Equal(t, "5077125931", payload.PaymentID.String())
	assert.Equal(t, "finished", payload.PaymentStatus)
	assert.Equal(t, float64(20), payload.PriceAmount)
}

func TestParseIPNRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json at all`},
		{"missing payment_status", `{"payment_id": 1, "order_id": "rchg:42:abc", "price_amount": 20}`},
		{"missing order_id", `{"payment_id": 1, "payment_status": "finished", "price_amount": 20}`},
		{"missing payment_id", `{"payment_status": "finished", "order_id": "rchg:42:abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIPN([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestIPNPayloadEvent(t *testing.T) {
	payload := IPNPayload{
		PaymentID:     json.Number("777"),
		PaymentStatus: "finished",
		OrderID:       "rchg:42:abc",
		PriceAmount:   20,
	}

	evt, err := payload.Event()
	require.NoError(t, err)
	assert.Equal(t, "42", evt.AccountID)
	assert.Equal(t, reconcile.KindCreditRecharge, evt.Kind)
	assert.Equal(t, int64(20), evt.Amount)
	assert.Equal(t, reconcile.StatusConfirmed, evt.Status)
	assert.Equal(t, "777", evt.ProviderTxID)

	payload.OrderID = "lic:42:abc"
	evt, err = payload.Event()
	require.NoError(t, err)
	assert.Equal(t, reconcile.KindLicensePurchase, evt.Kind)

	payload.OrderID = "bogus"
	_, err = payload.Event()
	assert.Error(t, err)
}

func TestEventStatusMapping(t *testing.T) {
	tests := []struct {
		provider string
		expected reconcile.EventStatus
	}{
		{"finished", reconcile.StatusConfirmed},
		{"confirmed", reconcile.StatusConfirmed},
		{"Finished", reconcile.StatusConfirmed},
		{"waiting", reconcile.StatusPending},
		{"confirming", reconcile.StatusPending},
		{"partially_paid", reconcile.StatusPending},
		{"failed", reconcile.StatusFailed},
		{"refunded", reconcile.StatusFailed},
		{"expired", reconcile.StatusFailed},
		{"something_new", reconcile.StatusPending},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, eventStatus(tt.provider), "status %q", tt.provider)
	}
}

func signBody(t *testing.T, body []byte, secret string) string {
	t.Helper()
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &fields))
	sorted, err := json.Marshal(fields)
	require.NoError(t, err)

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payment_id": 1, "payment_status": "finished", "order_id": "lic:42:abc"}`)
	secret := "ipn-secret"

	sig := signBody(t, body, secret)
	assert.True(t, VerifySignature(body, sig, secret))
	assert.False(t, VerifySignature(body, sig, "other-secret"))
	assert.False(t, VerifySignature(body, "deadbeef", secret))
	assert.False(t, VerifySignature(body, "", secret))

	// Key order in the delivered body must not matter.
	reordered := []byte(`{"order_id": "lic:42:abc", "payment_status": "finished", "payment_id": 1}`)
	assert.True(t, VerifySignature(reordered, sig, secret))

	// No configured secret disables the check.
	assert.True(t, VerifySignature(body, "", ""))
}

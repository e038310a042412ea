package payments

import (
	"strings"
	"testing"
)

func TestOrderRefRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind OrderKind
	}{
		{"license order", OrderLicense},
		{"recharge order", OrderRecharge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := NewOrderRef(tt.kind, "42")
			if ref.Nonce == "" {
				t.Fatal("expected a generated nonce")
			}

			parsed, err := ParseOrderRef(ref.Encode())
			if err != nil {
				t.Fatalf("ParseOrderRef: %v", err)
			}
			if parsed != ref {
				t.Errorf("round trip mismatch: %+v != %+v", parsed, ref)
			}
		})
	}
}

func TestNoncesDistinct(t *testing.T) {
	a := NewOrderRef(OrderLicense, "42")
	b := NewOrderRef(OrderLicense, "42")
	if a.Nonce == b.Nonce {
		t.Error("two orders for the same account must have distinct nonces")
	}
}

func TestParseOrderRefRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		orderID string
	}{
		{"empty", ""},
		{"no separators", "lic42abc"},
		{"one separator", "lic:42"},
		{"unknown kind", "gift:42:abc"},
		{"raw account id prefix is not a kind", "42:lic:abc"},
		{"missing account", "lic::abc"},
		{"missing nonce", "rchg:42:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOrderRef(tt.orderID); err == nil {
				t.Errorf("ParseOrderRef(%q) should fail", tt.orderID)
			}
		})
	}
}

func TestEncodeContainsExplicitKindToken(t *testing.T) {
	encoded := NewOrderRef(OrderRecharge, "42").Encode()
	if !strings.HasPrefix(encoded, "rchg:42:") {
		t.Errorf("Encode() = %q, want rchg:42: prefix", encoded)
	}
}

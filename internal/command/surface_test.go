package command

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zestbot/zest/internal/config"
	zerrors "github.com/zestbot/zest/internal/errors"
	"github.com/zestbot/zest/internal/ledger"
	"github.com/zestbot/zest/internal/payments"
)

func newTestSurface(t *testing.T, provider *httptest.Server) (*Surface, *ledger.Store) {
	t.Helper()

	store, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cfg := &config.Config{
		AdminIDs:      []int64{100},
		LicensePrice:  120,
		LicenseGrant:  60 * 24 * time.Hour,
		MinRecharge:   5,
		PriceCurrency: "eur",
		PayCurrency:   "usdttrc20",
	}

	var client *payments.Client
	if provider != nil {
		client = payments.NewClient(payments.Config{
			BaseURL:       provider.URL,
			APIKey:        "test-key",
			PriceCurrency: cfg.PriceCurrency,
			PayCurrency:   cfg.PayCurrency,
		})
	}

	return New(store, client, cfg), store
}

func newProvider(t *testing.T, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/invoice" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if capture != nil {
			*capture = body
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "4522625843",
			"invoice_url": "https://pay.example.com/invoice/4522625843",
		})
	}))
}

func TestBuyLicense(t *testing.T) {
	var captured map[string]interface{}
	provider := newProvider(t, &captured)
	defer provider.Close()

	surface, _ := newTestSurface(t, provider)

	url, err := surface.BuyLicense(context.Background(), "42")
	if err != nil {
		t.Fatalf("BuyLicense: %v", err)
	}
	if url != "https://pay.example.com/invoice/4522625843" {
		t.Errorf("invoice url = %q", url)
	}

	orderID, _ := captured["order_id"].(string)
	if !strings.HasPrefix(orderID, "lic:42:") {
		t.Errorf("order_id = %q, want explicit license kind token", orderID)
	}
	if amount, _ := captured["price_amount"].(float64); amount != 120 {
		t.Errorf("price_amount = %v, want 120", captured["price_amount"])
	}
}

func TestRecharge(t *testing.T) {
	var captured map[string]interface{}
	provider := newProvider(t, &captured)
	defer provider.Close()

	surface, _ := newTestSurface(t, provider)

	if _, err := surface.Recharge(context.Background(), "42", 20); err != nil {
		t.Fatalf("Recharge: %v", err)
	}
	orderID, _ := captured["order_id"].(string)
	if !strings.HasPrefix(orderID, "rchg:42:") {
		t.Errorf("order_id = %q, want explicit recharge kind token", orderID)
	}
}

func TestRechargeRejectsBelowMinimum(t *testing.T) {
	surface, store := newTestSurface(t, nil)

	_, err := surface.Recharge(context.Background(), "42", 1)
	if !errors.Is(err, zerrors.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}

	// Order construction never mutates the ledger, valid or not.
	if _, ok := store.Get("42"); ok {
		t.Error("recharge order must not create ledger state")
	}
}

func TestAdminStats(t *testing.T) {
	surface, store := newTestSurface(t, nil)
	if _, err := store.ApplyCredit("1", 10); err != nil {
		t.Fatal(err)
	}

	stats, err := surface.AdminStats(100)
	if err != nil {
		t.Fatalf("AdminStats: %v", err)
	}
	if stats.Accounts != 1 || stats.TotalCredits != 10 {
		t.Errorf("stats = %+v", stats)
	}

	_, err = surface.AdminStats(999)
	if !errors.Is(err, zerrors.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
}

func TestRequireLicense(t *testing.T) {
	surface, store := newTestSurface(t, nil)

	if err := surface.RequireLicense("42"); !errors.Is(err, ErrLicenseRequired) {
		t.Errorf("error = %v, want ErrLicenseRequired", err)
	}

	if _, err := store.ExtendLicense("42", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := surface.RequireLicense("42"); err != nil {
		t.Errorf("RequireLicense with active license: %v", err)
	}
}

func TestSnapshotCreatesLazily(t *testing.T) {
	surface, _ := newTestSurface(t, nil)

	snap, err := surface.Snapshot("42")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ID != "42" || snap.Credits != 0 || snap.LicenseStatus != ledger.StatusInactive {
		t.Errorf("snapshot = %+v", snap)
	}

	ids := surface.AccountIDs()
	if len(ids) != 1 || ids[0] != "42" {
		t.Errorf("AccountIDs = %v", ids)
	}
}

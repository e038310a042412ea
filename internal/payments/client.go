package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const invoiceTimeout = 30 * time.Second

// Config carries the provider settings the client needs.
type Config struct {
	BaseURL        string
	APIKey         string
	PriceCurrency  string
	PayCurrency    string
	IPNCallbackURL string
}

// Client talks to the NOWPayments invoice API. Invoice creation is a pure
// provider call plus a config read; it never touches ledger state.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a payment provider client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: invoiceTimeout,
		},
	}
}

// invoiceRequest is the provider's invoice creation payload.
type invoiceRequest struct {
	PriceAmount      int64  `json:"price_amount"`
	PriceCurrency    string `json:"price_currency"`
	PayCurrency      string `json:"pay_currency,omitempty"`
	IPNCallbackURL   string `json:"ipn_callback_url,omitempty"`
	OrderID          string `json:"order_id"`
	OrderDescription string `json:"order_description,omitempty"`
}

// Invoice is the hosted payment page returned by the provider.
type Invoice struct {
	ID         json.Number `json:"id"`
	InvoiceURL string      `json:"invoice_url"`
}

// CreateInvoice requests a hosted invoice for the given order.
func (c *Client) CreateInvoice(ctx context.Context, ref OrderRef, amount int64, description string) (*Invoice, error) {
	payload := invoiceRequest{
		PriceAmount:      amount,
		PriceCurrency:    c.cfg.PriceCurrency,
		PayCurrency:      c.cfg.PayCurrency,
		IPNCallbackURL:   c.cfg.IPNCallbackURL,
		OrderID:          ref.Encode(),
		OrderDescription: description,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/invoice"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send invoice request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read invoice response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("orderID", payload.OrderID).
			Str("response", string(body)).
			Msg("Invoice creation rejected by provider")
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var invoice Invoice
	if err := json.Unmarshal(body, &invoice); err != nil {
		return nil, fmt.Errorf("parse invoice response: %w", err)
	}
	if invoice.InvoiceURL == "" {
		return nil, fmt.Errorf("provider response missing invoice_url")
	}

	log.Info().
		Str("orderID", payload.OrderID).
		Str("invoiceID", invoice.ID.String()).
		Msg("Invoice created")
	return &invoice, nil
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	zerrors "github.com/zestbot/zest/internal/errors"
	"github.com/zestbot/zest/internal/logging"
	"github.com/zestbot/zest/internal/metrics"
	"github.com/zestbot/zest/internal/payments"
)

const maxCallbackBodySize = 1 << 20 // 1 MiB

// handlePaymentCallback receives the provider's asynchronous payment
// notification. Signature mismatch is 401 with no state change; malformed
// payloads are 400 with no state change; duplicates acknowledge 200 so the
// provider stops re-delivering. A 5xx tells the provider to retry; the
// event was not applied.
func (r *Router) handlePaymentCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, requestID := logging.WithRequestID(req.Context(), req.Header.Get("X-Request-ID"))
	logger := log.With().Str("requestID", requestID).Logger()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBodySize))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read payment callback body")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !payments.VerifySignature(body, req.Header.Get(payments.SignatureHeader), r.config.IPNSecret) {
		logger.Warn().Msg("Payment callback signature mismatch")
		metrics.PaymentEventsRejected.WithLabelValues("unauthorized").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// The string copy of the body is only worth making when debug output
	// is actually on.
	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		logger.Debug().Str("body", string(body)).Msg("Payment callback received")
	}

	payload, err := payments.ParseIPN(body)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected malformed payment callback")
		metrics.PaymentEventsRejected.WithLabelValues("malformed").Inc()
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	evt, err := payload.Event()
	if err != nil {
		logger.Warn().Err(err).Str("orderID", payload.OrderID).Msg("Rejected unresolvable payment callback")
		metrics.PaymentEventsRejected.WithLabelValues("unknown_order").Inc()
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	outcome, err := r.reconciler.Process(ctx, evt)
	if err != nil {
		if errors.Is(err, zerrors.ErrUnknownEvent) {
			logger.Warn().Err(err).Msg("Rejected unrecognized payment event")
			metrics.PaymentEventsRejected.WithLabelValues("unknown_event").Inc()
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		if errors.Is(err, zerrors.ErrInvalidAmount) {
			// Permanently invalid; a retry can never succeed.
			logger.Warn().Err(err).Msg("Rejected payment event with invalid amount")
			metrics.PaymentEventsRejected.WithLabelValues("invalid_amount").Inc()
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		// Storage failures and the like: nothing was committed, the
		// provider should re-deliver.
		logger.Error().Err(err).Str("txID", evt.ProviderTxID).Msg("Failed to apply payment event")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":        true,
		"applied":   outcome.Applied,
		"duplicate": outcome.Duplicate,
	})
}

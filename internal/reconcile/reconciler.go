package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	zerrors "github.com/zestbot/zest/internal/errors"
	"github.com/zestbot/zest/internal/ledger"
	"github.com/zestbot/zest/internal/logging"
	"github.com/zestbot/zest/internal/metrics"
)

// Kind discriminates what a confirmed payment buys. It is carried
// explicitly on the event; it is never inferred from the shape of an
// account id.
type Kind string

const (
	KindLicensePurchase Kind = "license_purchase"
	KindCreditRecharge  Kind = "credit_recharge"
)

// EventStatus is the provider-reported state of a payment.
type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusConfirmed EventStatus = "confirmed"
	StatusFailed    EventStatus = "failed"
)

// PaymentEvent is one inbound payment confirmation, already validated at
// the transport boundary.
type PaymentEvent struct {
	AccountID    string
	Kind         Kind
	Amount       int64
	Status       EventStatus
	ProviderTxID string
}

// Outcome describes what a processed event did to the ledger.
type Outcome struct {
	Applied    bool // false: benign no-op (duplicate or non-confirmed)
	Duplicate  bool
	NewBalance int64      // set for recharges
	NewExpiry  *time.Time // set for license purchases
}

// Notifier delivers a best-effort confirmation message to the account's
// chat. Failures are logged and swallowed; they never affect the ledger.
type Notifier interface {
	NotifyPayment(ctx context.Context, accountID string, outcome Outcome, kind Kind) error
}

// Reconciler turns confirmed payment events into ledger mutations, exactly
// once per provider transaction id.
type Reconciler struct {
	store        *ledger.Store
	notifier     Notifier
	licenseGrant time.Duration
	logger       zerolog.Logger
}

// New creates a reconciler. notifier may be nil.
func New(store *ledger.Store, notifier Notifier, licenseGrant time.Duration) *Reconciler {
	return &Reconciler{
		store:        store,
		notifier:     notifier,
		licenseGrant: licenseGrant,
		logger:       logging.With("reconcile"),
	}
}

// Process applies a single payment event. Non-confirmed events and
// duplicates are acknowledged without touching the ledger. A returned
// error means nothing was committed and the event is safe to re-deliver.
func (r *Reconciler) Process(ctx context.Context, evt PaymentEvent) (Outcome, error) {
	logCtx := r.logger.With().
		Str("account", evt.AccountID).
		Str("kind", string(evt.Kind)).
		Str("txID", evt.ProviderTxID)
	if requestID := logging.RequestID(ctx); requestID != "" {
		logCtx = logCtx.Str("requestID", requestID)
	}
	logger := logCtx.Logger()

	metrics.PaymentEventsReceived.WithLabelValues(string(evt.Status)).Inc()

	if evt.Status != StatusConfirmed {
		logger.Debug().Str("status", string(evt.Status)).Msg("Ignoring non-confirmed payment event")
		return Outcome{}, nil
	}
	if evt.ProviderTxID == "" {
		return Outcome{}, zerrors.NewLedgerError(zerrors.ErrorTypeUnknownEvent, "process_event", evt.AccountID,
			fmt.Errorf("%w: missing provider transaction id", zerrors.ErrUnknownEvent))
	}

	// Fast-path duplicate check; the store re-checks under its own lock
	// so two racing deliveries still apply exactly once.
	if r.store.HasProcessed(evt.ProviderTxID) {
		logger.Info().Msg("Duplicate payment event acknowledged")
		metrics.PaymentEventsDuplicate.Inc()
		return Outcome{Duplicate: true}, nil
	}

	// Unknown account ids are created lazily by the store mutation itself;
	// a rejected event must not leave an empty account behind.
	var outcome Outcome
	switch evt.Kind {
	case KindCreditRecharge:
		balance, applied, err := r.store.ApplyCreditEvent(evt.AccountID, evt.Amount, evt.ProviderTxID)
		if err != nil {
			return Outcome{}, err
		}
		outcome = Outcome{Applied: applied, Duplicate: !applied, NewBalance: balance}
	case KindLicensePurchase:
		expiry, applied, err := r.store.ExtendLicenseEvent(evt.AccountID, r.licenseGrant, evt.ProviderTxID)
		if err != nil {
			return Outcome{}, err
		}
		outcome = Outcome{Applied: applied, Duplicate: !applied}
		if applied {
			outcome.NewExpiry = &expiry
		}
	default:
		return Outcome{}, zerrors.NewLedgerError(zerrors.ErrorTypeUnknownEvent, "process_event", evt.AccountID,
			fmt.Errorf("%w: kind %q", zerrors.ErrUnknownEvent, evt.Kind))
	}

	if outcome.Duplicate {
		logger.Info().Msg("Duplicate payment event acknowledged")
		metrics.PaymentEventsDuplicate.Inc()
		return outcome, nil
	}

	metrics.PaymentEventsApplied.WithLabelValues(string(evt.Kind)).Inc()
	logger.Info().
		Int64("amount", evt.Amount).
		Int64("newBalance", outcome.NewBalance).
		Msg("Payment event applied")

	// Notification is best-effort: the mutation is already committed and
	// a send failure must not roll it back.
	if r.notifier != nil {
		if err := r.notifier.NotifyPayment(ctx, evt.AccountID, outcome, evt.Kind); err != nil {
			logger.Warn().Err(err).Msg("Failed to notify account of confirmed payment")
		}
	}

	return outcome, nil
}

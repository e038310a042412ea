package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/zestbot/zest/internal/config"
	zerrors "github.com/zestbot/zest/internal/errors"
	"github.com/zestbot/zest/internal/ledger"
	"github.com/zestbot/zest/internal/payments"
)

// ErrLicenseRequired is returned by the feature gate when the account has
// no active license.
var ErrLicenseRequired = errors.New("active license required")

// Surface is the set of operations the chat UI calls. It is a thin
// adapter: reads go straight to the ledger, purchases only construct an
// order descriptor and fetch a hosted invoice. The ledger is mutated
// exclusively by the payment reconciler once the provider confirms.
type Surface struct {
	store    *ledger.Store
	payments *payments.Client
	cfg      *config.Config
}

// New creates the command surface.
func New(store *ledger.Store, client *payments.Client, cfg *config.Config) *Surface {
	return &Surface{store: store, payments: client, cfg: cfg}
}

// Snapshot returns the account view for status display, creating the
// account lazily on first contact.
func (s *Surface) Snapshot(id string) (ledger.Snapshot, error) {
	return s.store.Snapshot(id)
}

// BuyLicense requests a hosted invoice for the fixed-price license and
// returns its URL. No ledger lock is held across the provider call.
func (s *Surface) BuyLicense(ctx context.Context, id string) (string, error) {
	ref := payments.NewOrderRef(payments.OrderLicense, id)
	days := int(s.cfg.LicenseGrant.Hours() / 24)
	description := fmt.Sprintf("License %d days", days)

	invoice, err := s.payments.CreateInvoice(ctx, ref, s.cfg.LicensePrice, description)
	if err != nil {
		return "", fmt.Errorf("create license invoice: %w", err)
	}
	return invoice.InvoiceURL, nil
}

// Recharge requests a hosted invoice for a user-chosen credit amount and
// returns its URL.
func (s *Surface) Recharge(ctx context.Context, id string, amount int64) (string, error) {
	if amount < s.cfg.MinRecharge {
		return "", zerrors.WrapInvalidAmount("recharge", id,
			fmt.Errorf("%w: amount %d below minimum %d", zerrors.ErrInvalidAmount, amount, s.cfg.MinRecharge))
	}

	ref := payments.NewOrderRef(payments.OrderRecharge, id)
	invoice, err := s.payments.CreateInvoice(ctx, ref, amount, fmt.Sprintf("Credit recharge %d", amount))
	if err != nil {
		return "", fmt.Errorf("create recharge invoice: %w", err)
	}
	return invoice.InvoiceURL, nil
}

// AdminStats aggregates the ledger for admin display. Non-admin callers
// are rejected with no state change.
func (s *Surface) AdminStats(requesterID int64) (ledger.Stats, error) {
	if !s.cfg.IsAdmin(requesterID) {
		return ledger.Stats{}, zerrors.WrapUnauthorized("admin_stats", fmt.Sprint(requesterID),
			zerrors.ErrUnauthorized)
	}
	return s.store.Stats(), nil
}

// RequireLicense gates a feature on license state: Inactive refuses,
// Active proceeds. The state is derived from the expiry timestamp at call
// time, never from a cached flag.
func (s *Surface) RequireLicense(id string) error {
	snap, err := s.store.Snapshot(id)
	if err != nil {
		return err
	}
	if snap.LicenseStatus != ledger.StatusActive {
		return ErrLicenseRequired
	}
	return nil
}

// AccountIDs lists every known account, for admin broadcast.
func (s *Surface) AccountIDs() []string {
	return s.store.AccountIDs()
}

// IsAdmin reports whether the user may run admin commands.
func (s *Surface) IsAdmin(userID int64) bool {
	return s.cfg.IsAdmin(userID)
}

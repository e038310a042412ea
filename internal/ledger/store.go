package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	zerrors "github.com/zestbot/zest/internal/errors"
)

const storeFilePerm = 0o600

// document is the on-disk layout: every account plus the set of already
// applied provider transaction ids. Keeping both in one document means an
// event's mutation and its dedup marker commit in a single atomic rename.
type document struct {
	Accounts  map[string]Account   `json:"accounts"`
	Processed map[string]time.Time `json:"processed"`
}

func newDocument() document {
	return document{
		Accounts:  make(map[string]Account),
		Processed: make(map[string]time.Time),
	}
}

// Store owns the durable entitlement ledger. All reads and writes of
// persisted state go through it; mutations are serialized per account and
// committed to disk before the call returns.
type Store struct {
	mu    sync.RWMutex
	path  string
	doc   document
	guard *accountLocks
	nowFn func() time.Time
}

// NewStore opens (or initializes) the ledger document at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		doc:   newDocument(),
		guard: newAccountLocks(),
		nowFn: time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("No ledger file found, starting empty")
			return s, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]Account)
	}
	if doc.Processed == nil {
		doc.Processed = make(map[string]time.Time)
	}
	s.doc = doc

	log.Info().
		Str("path", path).
		Int("accounts", len(doc.Accounts)).
		Int("processedEvents", len(doc.Processed)).
		Msg("Ledger loaded")
	return s, nil
}

// saveLocked durably commits the document. Caller must hold s.mu.
// The write goes to a temp file first and is renamed over the committed
// file, so a crash mid-write never leaves a corrupt ledger.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, storeFilePerm); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit ledger file: %w", err)
	}
	return nil
}

// mutate runs fn on a copy of the account under the per-account guard,
// installs the result and commits. txID, when non-empty, is recorded as
// processed in the same commit. On a failed commit the in-memory state is
// rolled back so the caller may safely retry.
func (s *Store) mutate(op, id, txID string, fn func(a *Account) error) (Account, error) {
	unlock := s.guard.lock(id)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	acct, existed := s.doc.Accounts[id]
	if !existed {
		acct = Account{ID: id, CreatedAt: now}
	}

	next := acct.clone()
	if err := fn(&next); err != nil {
		return Account{}, err
	}

	s.doc.Accounts[id] = next
	if txID != "" {
		s.doc.Processed[txID] = now
	}

	if err := s.saveLocked(); err != nil {
		if existed {
			s.doc.Accounts[id] = acct
		} else {
			delete(s.doc.Accounts, id)
		}
		if txID != "" {
			delete(s.doc.Processed, txID)
		}
		return Account{}, zerrors.WrapStorageError(op, id, err)
	}

	return next, nil
}

// GetOrCreate returns the account for id, creating a zero-state record on
// first contact. Creation is a mutation and commits durably.
func (s *Store) GetOrCreate(id string) (Account, error) {
	s.mu.RLock()
	acct, ok := s.doc.Accounts[id]
	s.mu.RUnlock()
	if ok {
		return acct.clone(), nil
	}

	return s.mutate("get_or_create", id, "", func(a *Account) error {
		return nil
	})
}

// Get returns the account for id without creating it.
func (s *Store) Get(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.doc.Accounts[id]
	if !ok {
		return Account{}, false
	}
	return acct.clone(), true
}

// ApplyCredit adds amount to the account balance and returns the new
// balance. Non-positive amounts are rejected before any state change.
func (s *Store) ApplyCredit(id string, amount int64) (int64, error) {
	acct, err := s.mutate("apply_credit", id, "", creditMutation(amount))
	if err != nil {
		return 0, err
	}
	return acct.Credits, nil
}

// ExtendLicense stacks d on top of the remaining license time and returns
// the new expiry. An expired or absent license anchors at now; an active
// one keeps its remaining time, so a grant is never shortened or reset.
func (s *Store) ExtendLicense(id string, d time.Duration) (time.Time, error) {
	acct, err := s.mutate("extend_license", id, "", s.extendMutation(d))
	if err != nil {
		return time.Time{}, err
	}
	return *acct.LicenseExpiry, nil
}

// HasProcessed reports whether the provider transaction id was already
// applied.
func (s *Store) HasProcessed(txID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Processed[txID]
	return ok
}

// ApplyCreditEvent applies a confirmed recharge exactly once. The dedup
// check, the balance change and the processed marker share one critical
// section and one durable commit. The bool reports whether the event was
// applied (false: already processed, balance unchanged).
func (s *Store) ApplyCreditEvent(id string, amount int64, txID string) (int64, bool, error) {
	if s.HasProcessed(txID) {
		acct, _ := s.Get(id)
		return acct.Credits, false, nil
	}

	acct, err := s.mutate("apply_credit_event", id, txID, func(a *Account) error {
		if _, ok := s.doc.Processed[txID]; ok {
			// Lost the race to another delivery of the same event.
			return errAlreadyProcessed
		}
		return creditMutation(amount)(a)
	})
	if errors.Is(err, errAlreadyProcessed) {
		prev, _ := s.Get(id)
		return prev.Credits, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return acct.Credits, true, nil
}

// ExtendLicenseEvent extends the license exactly once for txID, committing
// the extension and the dedup marker atomically.
func (s *Store) ExtendLicenseEvent(id string, d time.Duration, txID string) (time.Time, bool, error) {
	if s.HasProcessed(txID) {
		acct, ok := s.Get(id)
		if ok && acct.LicenseExpiry != nil {
			return *acct.LicenseExpiry, false, nil
		}
		return time.Time{}, false, nil
	}

	acct, err := s.mutate("extend_license_event", id, txID, func(a *Account) error {
		if _, ok := s.doc.Processed[txID]; ok {
			return errAlreadyProcessed
		}
		return s.extendMutation(d)(a)
	})
	if errors.Is(err, errAlreadyProcessed) {
		prev, ok := s.Get(id)
		if ok && prev.LicenseExpiry != nil {
			return *prev.LicenseExpiry, false, nil
		}
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return *acct.LicenseExpiry, true, nil
}

// Snapshot returns the account view used by the chat surface, creating the
// account lazily on first contact.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	acct, err := s.GetOrCreate(id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:            acct.ID,
		Credits:       acct.Credits,
		LicenseStatus: LicenseStatus(acct.LicenseExpiry, s.nowFn()),
		LicenseExpiry: acct.LicenseExpiry,
	}, nil
}

// Stats aggregates the ledger without blocking writers longer than a map
// walk.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.nowFn()
	stats := Stats{Accounts: len(s.doc.Accounts)}
	for _, acct := range s.doc.Accounts {
		stats.TotalCredits += acct.Credits
		if LicenseStatus(acct.LicenseExpiry, now) == StatusActive {
			stats.ActiveLicenses++
		}
	}
	return stats
}

// AccountIDs returns every known account id, sorted for stable iteration.
func (s *Store) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.doc.Accounts))
	for id := range s.doc.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var errAlreadyProcessed = errors.New("event already processed")

func creditMutation(amount int64) func(a *Account) error {
	return func(a *Account) error {
		if amount <= 0 {
			return zerrors.WrapInvalidAmount("apply_credit", a.ID,
				fmt.Errorf("%w: %d", zerrors.ErrInvalidAmount, amount))
		}
		a.Credits += amount
		return nil
	}
}

func (s *Store) extendMutation(d time.Duration) func(a *Account) error {
	return func(a *Account) error {
		if d <= 0 {
			return zerrors.WrapInvalidAmount("extend_license", a.ID,
				fmt.Errorf("%w: non-positive duration %s", zerrors.ErrInvalidAmount, d))
		}
		now := s.nowFn()
		base := now
		if a.LicenseExpiry != nil && a.LicenseExpiry.After(now) {
			base = *a.LicenseExpiry
		}
		expiry := base.Add(d)
		a.LicenseExpiry = &expiry
		return nil
	}
}

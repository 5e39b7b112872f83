package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/models"
	"BPSGateway/internal/rules"
	"BPSGateway/internal/store"
)

const keyPrefix = "invoice/"

// Matcher is the correlation policy applied to one event.
type Matcher interface {
	Matches(inv *models.Invoice, tx models.Tx) bool
	TxID(tx models.Tx) models.TxID
	IsCredited(tx models.Tx) bool
}

// AddressValidator rejects addresses that cannot belong to the currency.
type AddressValidator func(currency models.Currency, address string) error

// ApplyResult describes what a single event did to the store.
type ApplyResult struct {
	// Discarded is set when the currency had no unpaid invoices at all.
	Discarded bool
	Matched   []string
	// Duplicates matched but had already been credited with this tx.
	Duplicates []string
	// Recorded saw the tx for the first time without crediting it.
	Recorded []string
	Credited []string
	Paid     []*models.Invoice
}

// Store holds every invoice plus a per-currency index of the unpaid ones.
// All mutation goes through Create and Apply.
type Store struct {
	mu       sync.RWMutex
	kv       store.KV
	table    rules.Table
	validate AddressValidator
	logger   *slog.Logger
	now      func() time.Time

	invoices map[string]*models.Invoice
	unpaid   map[models.Currency]map[string]struct{}
}

func New(kv store.KV, table rules.Table, logger *slog.Logger) *Store {
	return &Store{
		kv:       kv,
		table:    table,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		invoices: make(map[string]*models.Invoice),
		unpaid:   make(map[models.Currency]map[string]struct{}),
	}
}

func (s *Store) SetAddressValidator(v AddressValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validate = v
}

// Load rebuilds the in-memory maps from the backend.
func (s *Store) Load(ctx context.Context) error {
	loaded := make(map[string]*models.Invoice)
	err := s.kv.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		var inv models.Invoice
		if err := json.Unmarshal(value, &inv); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		loaded[inv.ID] = &inv
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	unpaidCount := 0
	for id, inv := range loaded {
		s.invoices[id] = inv
		if !inv.IsPaid() {
			s.index(inv)
			unpaidCount++
		}
	}
	s.logger.Info("Invoices loaded", "total", len(loaded), "unpaid", unpaidCount)
	return nil
}

func (s *Store) Create(ctx context.Context, currency models.Currency, amount decimal.Decimal, address string, tag models.Tag) (*models.Invoice, error) {
	address = strings.TrimSpace(address)
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount.WithDetails("amount=" + amount.String())
	}
	if address == "" {
		return nil, apperr.ErrEmptyAddress
	}
	if !s.table.Supports(currency) {
		return nil, apperr.ErrUnsupportedCurrency.WithDetails("currency=" + string(currency))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.validate != nil {
		if err := s.validate(currency, address); err != nil {
			return nil, apperr.ErrInvalidAddress.WithDetails(err.Error())
		}
	}

	inv := &models.Invoice{
		ID:            uuid.NewString(),
		Currency:      currency,
		Amount:        amount,
		Address:       address,
		Tag:           tag,
		Received:      decimal.Zero,
		TxIDs:         []models.TxID{},
		CreditedTxIDs: []models.TxID{},
		Status:        models.InvoiceUnpaid,
		CreatedAt:     s.now(),
	}
	if err := s.persist(ctx, inv); err != nil {
		s.logger.Error("Failed to persist invoice", "invoice_id", inv.ID, "error", err)
		return nil, apperr.NewAppError(apperr.InternalError, "failed to store invoice").WithDetails(err.Error())
	}
	s.invoices[inv.ID] = inv
	s.index(inv)

	s.logger.Info("Invoice created",
		"invoice_id", inv.ID,
		"currency", inv.Currency,
		"amount", inv.Amount,
		"address", inv.Address,
		"tag", inv.Tag.String())
	return inv.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, apperr.ErrInvoiceNotFound.WithDetails("id=" + id)
	}
	return inv.Clone(), nil
}

// ForEachUnpaid calls fn with a snapshot of every invoice of the currency
// that is unpaid right now, until fn returns false.
func (s *Store) ForEachUnpaid(currency models.Currency, fn func(inv *models.Invoice) bool) {
	s.mu.RLock()
	snapshot := make([]*models.Invoice, 0, len(s.unpaid[currency]))
	for _, id := range s.unpaidIDs(currency) {
		snapshot = append(snapshot, s.invoices[id].Clone())
	}
	s.mu.RUnlock()

	for _, inv := range snapshot {
		if !fn(inv) {
			return
		}
	}
}

func (s *Store) UnpaidCount(currency models.Currency) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.unpaid[currency])
}

// Apply runs one transaction event against the unpaid invoices of its
// currency. Each changed invoice is persisted as a whole before the
// in-memory copy is replaced, so a failed write leaves that invoice as it
// was and the event can be applied again on redelivery.
func (s *Store) Apply(ctx context.Context, tx models.Tx, m Matcher) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ApplyResult
	if len(s.unpaid[tx.Currency]) == 0 {
		res.Discarded = true
		return res, nil
	}

	id := m.TxID(tx)
	credit := m.IsCredited(tx) && tx.Amount.IsPositive()
	var errs []error

	for _, invID := range s.matching(tx, m) {
		inv := s.invoices[invID]
		res.Matched = append(res.Matched, invID)

		if inv.HasCredited(id) {
			res.Duplicates = append(res.Duplicates, invID)
			continue
		}
		if inv.HasTx(id) && !credit {
			continue
		}

		next := inv.Clone()
		if !next.HasTx(id) {
			next.TxIDs = append(next.TxIDs, id)
		}
		if credit {
			next.Received = next.Received.Add(tx.Amount)
			next.CreditedTxIDs = append(next.CreditedTxIDs, id)
		}
		if next.Received.GreaterThanOrEqual(next.Amount) {
			paidAt := s.now()
			next.Status = models.InvoicePaid
			next.PaidAt = &paidAt
		}

		if err := s.persist(ctx, next); err != nil {
			s.logger.Error("Failed to persist invoice update",
				"invoice_id", invID, "tx_hash", tx.Hash, "error", err)
			errs = append(errs, fmt.Errorf("invoice %s: %w", invID, err))
			continue
		}
		s.invoices[invID] = next

		if credit {
			res.Credited = append(res.Credited, invID)
		} else {
			res.Recorded = append(res.Recorded, invID)
		}
		if next.IsPaid() {
			delete(s.unpaid[next.Currency], invID)
			res.Paid = append(res.Paid, next.Clone())
		}
	}
	return res, errors.Join(errs...)
}

func (s *Store) persist(ctx context.Context, inv *models.Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, keyPrefix+inv.ID, data)
}

func (s *Store) index(inv *models.Invoice) {
	ids, ok := s.unpaid[inv.Currency]
	if !ok {
		ids = make(map[string]struct{})
		s.unpaid[inv.Currency] = ids
	}
	ids[inv.ID] = struct{}{}
}

// matching returns the unpaid invoices of tx's currency that m accepts. Only
// an ambiguous match is sorted, so multi-match handling is deterministic.
func (s *Store) matching(tx models.Tx, m Matcher) []string {
	var ids []string
	for id := range s.unpaid[tx.Currency] {
		if m.Matches(s.invoices[id], tx) {
			ids = append(ids, id)
		}
	}
	if len(ids) > 1 {
		sort.Strings(ids)
	}
	return ids
}

// unpaidIDs returns the index in a stable order.
func (s *Store) unpaidIDs(currency models.Currency) []string {
	ids := make([]string, 0, len(s.unpaid[currency]))
	for id := range s.unpaid[currency] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/models"
	"BPSGateway/internal/rules"
	"BPSGateway/internal/store"
)

const keyPrefix = "payment/"

// Store records outgoing payment intents. Records are written once and never
// updated.
type Store struct {
	kv     store.KV
	table  rules.Table
	logger *slog.Logger
	now    func() time.Time
}

func New(kv store.KV, table rules.Table, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		table:  table,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Create(ctx context.Context, currency models.Currency, amount decimal.Decimal, address string) (*models.Payment, error) {
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

	p := &models.Payment{
		ID:        uuid.NewString(),
		Currency:  currency,
		Amount:    amount,
		Address:   address,
		CreatedAt: s.now(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Put(ctx, keyPrefix+p.ID, data); err != nil {
		s.logger.Error("Failed to persist payment", "payment_id", p.ID, "error", err)
		return nil, apperr.NewAppError(apperr.InternalError, "failed to store payment").WithDetails(err.Error())
	}
	s.logger.Info("Payment created",
		"payment_id", p.ID,
		"currency", p.Currency,
		"amount", p.Amount,
		"address", p.Address)
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Payment, error) {
	data, err := s.kv.Get(ctx, keyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrPaymentNotFound.WithDetails("id=" + id)
	}
	if err != nil {
		return nil, err
	}
	var p models.Payment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return &p, nil
}

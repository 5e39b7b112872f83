package services

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/chain"
	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/payments"
	"BPSGateway/internal/rules"
)

// GatewayService is the façade the API talks to. It fills in what a caller
// may leave out (deposit address, tag) from the currency clients before
// handing over to the stores.
type GatewayService struct {
	Invoices *invoices.Store
	Payments *payments.Store
	Clients  map[models.Currency]chain.Client
	Rules    rules.Table
	Logger   *slog.Logger
	// NewTag draws the tag for tag-matched invoices created without one.
	NewTag func() int64
}

// RandomTag returns a tag in [0, MaxInt32), which fits every chain's tag
// field including XRP's 32-bit DestinationTag.
func RandomTag() int64 {
	return rand.Int63n(math.MaxInt32)
}

type CreateInvoiceRequest struct {
	Currency models.Currency
	Amount   decimal.Decimal
	Address  string
	Tag      models.Tag
}

func (s GatewayService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*models.Invoice, error) {
	rule, ok := s.Rules.Lookup(req.Currency)
	if !ok {
		return nil, apperr.ErrUnsupportedCurrency.WithDetails("currency=" + string(req.Currency))
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount.WithDetails("amount=" + req.Amount.String())
	}

	address := req.Address
	if address == "" {
		client, ok := s.Clients[req.Currency]
		if !ok {
			return nil, apperr.ErrEmptyAddress
		}
		addr, err := client.Address(ctx)
		if err != nil {
			s.Logger.Error("Failed to obtain deposit address", "currency", req.Currency, "error", err)
			return nil, apperr.NewAppError(apperr.UpstreamFeed, "could not obtain deposit address").WithDetails(err.Error())
		}
		address = addr
	}

	tag := req.Tag
	if !tag.Valid && rule.RequiresTagMatch {
		draw := s.NewTag
		if draw == nil {
			draw = RandomTag
		}
		tag = models.NewTag(draw())
	}
	return s.Invoices.Create(ctx, req.Currency, req.Amount, address, tag)
}

func (s GatewayService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return s.Invoices.Get(ctx, id)
}

type CreatePaymentRequest struct {
	Currency models.Currency
	Amount   decimal.Decimal
	Address  string
	Tag      models.Tag
	// Send asks the currency client to broadcast the payment right away.
	Send bool
}

// CreatePayment records the payment and, when asked to, sends it. A failed
// send still leaves the record in place and returns it with the error.
func (s GatewayService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*models.Payment, string, error) {
	p, err := s.Payments.Create(ctx, req.Currency, req.Amount, req.Address)
	if err != nil {
		return nil, "", err
	}
	if !req.Send {
		return p, "", nil
	}
	client, ok := s.Clients[req.Currency]
	if !ok {
		return p, "", apperr.NewAppErrorf(apperr.InvalidArgument, "no client configured for %s", req.Currency)
	}
	txHash, err := client.SendPayment(ctx, p.Amount, p.Address, req.Tag)
	if err != nil {
		s.Logger.Error("Failed to send payment", "payment_id", p.ID, "currency", p.Currency, "error", err)
		return p, "", apperr.NewAppError(apperr.UpstreamFeed, "payment was recorded but could not be sent").WithDetails(err.Error())
	}
	s.Logger.Info("Payment sent", "payment_id", p.ID, "currency", p.Currency, "tx_hash", txHash)
	return p, txHash, nil
}

func (s GatewayService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.Payments.Get(ctx, id)
}

func (s GatewayService) Balance(ctx context.Context, currency models.Currency) (decimal.Decimal, error) {
	client, ok := s.Clients[currency]
	if !ok {
		return decimal.Zero, apperr.ErrUnsupportedCurrency.WithDetails("currency=" + string(currency))
	}
	bal, err := client.Balance(ctx)
	if err != nil {
		return decimal.Zero, apperr.NewAppError(apperr.UpstreamFeed, "balance unavailable").WithDetails(err.Error())
	}
	return bal, nil
}

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

// Client is what the gateway needs from one currency's node.
//
// Subscribe starts a transaction feed. Both channels are closed when the feed
// ends, either because ctx was cancelled or because the upstream failed; in
// the latter case the error is sent on the error channel first.
type Client interface {
	Currency() models.Currency
	Balance(ctx context.Context) (decimal.Decimal, error)
	Address(ctx context.Context) (string, error)
	SendPayment(ctx context.Context, amount decimal.Decimal, address string, tag models.Tag) (string, error)
	Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error)
}

// Config carries the node settings of one currency. Not every field applies
// to every chain.
type Config struct {
	Endpoints     []string
	WSEndpoint    string
	RPCUser       string
	RPCPassword   string
	FailThreshold int
	Confirmations int64
	PollInterval  time.Duration
	StartBlock    int64

	// Address is the shared deposit account (TRX, XRP).
	Address string
	// Secret signs outgoing payments: a hex private key for TRX, a seed for XRP.
	Secret string
	// XPub and Network enable per-invoice BTC address derivation.
	XPub         string
	Network      string
	AddressIndex uint32
}

type Constructor func(cfg Config, logger *slog.Logger) (Client, error)

// Registry maps a currency to the constructor of its client.
type Registry struct {
	ctors map[models.Currency]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[models.Currency]Constructor)}
}

// DefaultRegistry knows the node clients shipped with the gateway.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.BTC, NewBitcoindClient)
	r.Register(models.TRX, NewTronClient)
	r.Register(models.XRP, NewRippledClient)
	return r
}

func (r *Registry) Register(c models.Currency, ctor Constructor) {
	r.ctors[c] = ctor
}

func (r *Registry) New(c models.Currency, cfg Config, logger *slog.Logger) (Client, error) {
	ctor, ok := r.ctors[c]
	if !ok {
		return nil, fmt.Errorf("no client registered for %s", c)
	}
	return ctor(cfg, logger.With("currency", c))
}

func (r *Registry) Currencies() []models.Currency {
	out := make([]models.Currency, 0, len(r.ctors))
	for c := range r.ctors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

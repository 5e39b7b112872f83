package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/rules"
)

const DefaultQueueSize = 1024

// ErrStopped is returned by Submit once Run has begun shutting down.
var ErrStopped = errors.New("reconciliation engine stopped")

// Notifier is told about every UNPAID -> PAID transition.
type Notifier interface {
	InvoicePaid(ctx context.Context, inv *models.Invoice) error
}

type Stats struct {
	Processed   uint64 `json:"processed"`
	Discarded   uint64 `json:"discarded"`
	Unsupported uint64 `json:"unsupported"`
	Matched     uint64 `json:"matched"`
	Duplicates  uint64 `json:"duplicates"`
	Credited    uint64 `json:"credited"`
	Paid        uint64 `json:"paid"`
	Ambiguous   uint64 `json:"ambiguous"`
	Failed      uint64 `json:"failed"`
}

// Outcome is the result of handling one event.
type Outcome struct {
	invoices.ApplyResult
	Ambiguous bool
	Err       error
}

// Engine applies transaction events from every currency feed to the
// invoice store. Feeds push through Submit; Run is the single consumer.
type Engine struct {
	Invoices *invoices.Store
	Rules    rules.Table
	Logger   *slog.Logger

	// Notifier and OnAmbiguous are optional and must be set before Run.
	Notifier    Notifier
	OnAmbiguous func(tx models.Tx, invoiceIDs []string)

	events chan models.Tx

	// Submit holds mu for reading while it queues, so once stop has taken
	// it for writing nothing can reach events unseen by drain.
	mu       sync.RWMutex
	stopped  bool
	stopping chan struct{}
	stopOnce sync.Once

	processed   atomic.Uint64
	discarded   atomic.Uint64
	unsupported atomic.Uint64
	matched     atomic.Uint64
	duplicates  atomic.Uint64
	credited    atomic.Uint64
	paid        atomic.Uint64
	ambiguous   atomic.Uint64
	failed      atomic.Uint64
}

func NewEngine(st *invoices.Store, table rules.Table, logger *slog.Logger, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Engine{
		Invoices: st,
		Rules:    table,
		Logger:   logger,
		events:   make(chan models.Tx, queueSize),
		stopping: make(chan struct{}),
	}
}

// Submit queues an event for Run. It blocks while the queue is full and
// returns ErrStopped once the engine is shutting down. An event Submit
// accepted is always handled and settled.
func (e *Engine) Submit(ctx context.Context, tx models.Tx) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrStopped
	}
	select {
	case e.events <- tx:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopping:
		return ErrStopped
	}
}

// Run consumes queued events until ctx is cancelled. It then refuses new
// events, applies whatever is still buffered and returns.
func (e *Engine) Run(ctx context.Context) {
	e.Logger.Info("Reconciliation engine started", "currencies", e.Rules.Currencies())
	for {
		select {
		case <-ctx.Done():
			e.stop()
			e.drain()
			e.Logger.Info("Reconciliation engine stopped", "stats", e.Stats())
			return
		case tx := <-e.events:
			e.apply(ctx, tx)
		}
	}
}

func (e *Engine) stop() {
	e.stopOnce.Do(func() {
		close(e.stopping)
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
	})
}

func (e *Engine) drain() {
	ctx := context.Background()
	for {
		select {
		case tx := <-e.events:
			e.apply(ctx, tx)
		default:
			return
		}
	}
}

// apply handles tx and settles it with the store error, if any, so a feed
// that acknowledges events redelivers the ones that were not applied.
func (e *Engine) apply(ctx context.Context, tx models.Tx) {
	out := e.Handle(ctx, tx)
	tx.Settle(out.Err)
}

// Handle applies a single event. It never panics and never returns an error
// to the producer; failures are logged and counted.
func (e *Engine) Handle(ctx context.Context, tx models.Tx) (out Outcome) {
	e.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.failed.Add(1)
			out.Err = fmt.Errorf("panic while applying tx %s: %v", tx.Hash, r)
			e.Logger.Error("Transaction event handling panicked",
				"currency", tx.Currency, "tx_hash", tx.Hash, "panic", r)
		}
	}()

	rule, ok := e.Rules.Lookup(tx.Currency)
	if !ok {
		e.unsupported.Add(1)
		e.Logger.Warn("Dropping event for unsupported currency", "currency", tx.Currency, "tx_hash", tx.Hash)
		return out
	}

	res, err := e.Invoices.Apply(ctx, tx, rule)
	out.ApplyResult = res
	if err != nil {
		e.failed.Add(1)
		out.Err = err
		e.Logger.Error("Failed to apply transaction event",
			"currency", tx.Currency, "tx_hash", tx.Hash, "error", err)
	}
	if res.Discarded {
		e.discarded.Add(1)
		return out
	}
	if len(res.Matched) == 0 {
		return out
	}

	e.matched.Add(uint64(len(res.Matched)))
	e.duplicates.Add(uint64(len(res.Duplicates)))
	e.credited.Add(uint64(len(res.Credited)))

	if len(res.Matched) > 1 {
		out.Ambiguous = true
		e.ambiguous.Add(1)
		e.Logger.Warn("Transaction matched more than one unpaid invoice",
			"code", apperr.AmbiguousMatch,
			"currency", tx.Currency,
			"tx_hash", tx.Hash,
			"destination", tx.Destination,
			"tag", tx.Tag.String(),
			"invoice_ids", res.Matched)
		if e.OnAmbiguous != nil {
			e.OnAmbiguous(tx, append([]string(nil), res.Matched...))
		}
	}

	for _, id := range res.Credited {
		e.Logger.Info("Invoice credited",
			"invoice_id", id,
			"currency", tx.Currency,
			"tx_hash", tx.Hash,
			"amount", tx.Amount)
	}
	for _, inv := range res.Paid {
		e.paid.Add(1)
		e.Logger.Info("Invoice paid",
			"invoice_id", inv.ID,
			"currency", inv.Currency,
			"amount", inv.Amount,
			"received", inv.Received)
		if e.Notifier != nil {
			if err := e.Notifier.InvoicePaid(ctx, inv); err != nil {
				e.Logger.Warn("Failed to publish invoice paid notification", "invoice_id", inv.ID, "error", err)
			}
		}
	}
	return out
}

func (e *Engine) Stats() Stats {
	return Stats{
		Processed:   e.processed.Load(),
		Discarded:   e.discarded.Load(),
		Unsupported: e.unsupported.Load(),
		Matched:     e.matched.Load(),
		Duplicates:  e.duplicates.Load(),
		Credited:    e.credited.Load(),
		Paid:        e.paid.Load(),
		Ambiguous:   e.ambiguous.Load(),
		Failed:      e.failed.Load(),
	}
}

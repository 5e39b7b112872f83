package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"BPSGateway/internal/chain"
	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/models"
)

// Sink receives the events of every feed. The reconciliation engine is one.
type Sink interface {
	Submit(ctx context.Context, tx models.Tx) error
}

// Worker keeps one currency feed subscribed and forwards its events to the
// sink. A feed that fails or ends is resubscribed with exponential backoff;
// duplicates that a resubscription replays are absorbed downstream.
type Worker struct {
	Client         chain.Client
	Sink           Sink
	Logger         *slog.Logger
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (w *Worker) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if w.InitialBackoff > 0 {
		b.InitialInterval = w.InitialBackoff
	}
	if w.MaxBackoff > 0 {
		b.MaxInterval = w.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (w *Worker) Run(ctx context.Context) {
	currency := w.Client.Currency()
	bo := w.newBackOff()
	w.Logger.Info("Feed worker started", "currency", currency)

	for {
		delivered, err := w.session(ctx)
		if ctx.Err() != nil {
			w.Logger.Info("Feed worker stopped", "currency", currency)
			return
		}
		if delivered > 0 {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		w.Logger.Warn("Transaction feed interrupted; resubscribing",
			"code", apperr.UpstreamFeed,
			"currency", currency,
			"delivered", delivered,
			"retry_in", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.Logger.Info("Feed worker stopped", "currency", currency)
			return
		case <-timer.C:
		}
	}
}

// session runs one subscription until it ends and reports how many events
// it forwarded.
func (w *Worker) session(ctx context.Context) (int, error) {
	txs, errs, err := w.Client.Subscribe(ctx)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for tx := range txs {
		if tx.Currency == "" {
			tx.Currency = w.Client.Currency()
		}
		if err := w.Sink.Submit(ctx, tx); err != nil {
			tx.Settle(err)
			return delivered, err
		}
		delivered++
	}

	if feedErr, ok := <-errs; ok && feedErr != nil {
		return delivered, feedErr
	}
	if ctx.Err() != nil {
		return delivered, ctx.Err()
	}
	return delivered, apperr.ErrFeedClosed.WithDetails(string(w.Client.Currency()))
}

// RunAll runs one worker per client and returns once all have stopped.
func RunAll(ctx context.Context, workers []*Worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	wg.Wait()
}

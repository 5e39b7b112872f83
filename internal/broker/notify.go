package broker

import (
	"context"
	"log/slog"
	"time"

	"BPSGateway/internal/models"
)

const publishTimeout = 10 * time.Second

// PaidPublisher is the synchronous side of an AsyncNotifier, usually a
// Producer.
type PaidPublisher interface {
	InvoicePaid(ctx context.Context, inv *models.Invoice) error
}

// AsyncNotifier queues paid invoices and publishes them from its own
// goroutine so the reconciliation engine never waits on the broker. When the
// queue is full the notification is dropped and logged; the invoice itself
// is already persisted as PAID.
type AsyncNotifier struct {
	pub    PaidPublisher
	queue  chan *models.Invoice
	logger *slog.Logger
}

func NewAsyncNotifier(pub PaidPublisher, size int, logger *slog.Logger) *AsyncNotifier {
	if size <= 0 {
		size = 256
	}
	return &AsyncNotifier{pub: pub, queue: make(chan *models.Invoice, size), logger: logger}
}

func (n *AsyncNotifier) InvoicePaid(_ context.Context, inv *models.Invoice) error {
	select {
	case n.queue <- inv:
	default:
		n.logger.Warn("Paid notification queue full; dropping", "invoice_id", inv.ID)
	}
	return nil
}

// Run publishes queued notifications until ctx is cancelled, then flushes
// what is left.
func (n *AsyncNotifier) Run(ctx context.Context) {
	for {
		select {
		case inv := <-n.queue:
			n.publish(inv)
		case <-ctx.Done():
			for {
				select {
				case inv := <-n.queue:
					n.publish(inv)
				default:
					return
				}
			}
		}
	}
}

func (n *AsyncNotifier) publish(inv *models.Invoice) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.pub.InvoicePaid(ctx, inv); err != nil {
		n.logger.Warn("Failed to publish invoice paid event", "invoice_id", inv.ID, "error", err)
	}
}

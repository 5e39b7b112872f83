package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"BPSGateway/internal/chain"
	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/models"
)

// FeedClient is a chain.Client whose transaction feed comes from a trusted
// indexer publishing normalized events to RabbitMQ. Wallet calls are passed
// to Node when one is configured.
type FeedClient struct {
	URL      string
	Exchange string
	Queue    string
	Node     chain.Client

	currency models.Currency
	logger   *slog.Logger
}

func NewFeedClient(currency models.Currency, amqpURL, exchange string, node chain.Client, logger *slog.Logger) *FeedClient {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &FeedClient{
		URL:      amqpURL,
		Exchange: exchange,
		Queue:    "bps." + TxRoutingKey(currency),
		Node:     node,
		currency: currency,
		logger:   logger,
	}
}

func (f *FeedClient) Currency() models.Currency { return f.currency }

func (f *FeedClient) noNode(op string) error {
	return apperr.NewAppErrorf(apperr.InvalidArgument, "%s: no node configured for %s feed", op, f.currency)
}

func (f *FeedClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	if f.Node == nil {
		return decimal.Zero, f.noNode("balance")
	}
	return f.Node.Balance(ctx)
}

func (f *FeedClient) Address(ctx context.Context) (string, error) {
	if f.Node == nil {
		return "", f.noNode("address")
	}
	return f.Node.Address(ctx)
}

func (f *FeedClient) SendPayment(ctx context.Context, amount decimal.Decimal, address string, tag models.Tag) (string, error) {
	if f.Node == nil {
		return "", f.noNode("send")
	}
	return f.Node.SendPayment(ctx, amount, address, tag)
}

func (f *FeedClient) Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error) {
	conn, ch, err := dial(f.URL)
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		ch.Close()
		conn.Close()
	}
	if err := declareExchange(ch, f.Exchange); err != nil {
		closeAll()
		return nil, nil, err
	}
	q, err := ch.QueueDeclare(f.Queue, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if err := ch.QueueBind(q.Name, TxRoutingKey(f.currency), f.Exchange, false, nil); err != nil {
		closeAll()
		return nil, nil, err
	}
	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	f.logger.Info("Consuming transaction events", "exchange", f.Exchange, "queue", q.Name)

	txs := make(chan models.Tx)
	errs := make(chan error, 1)
	go func() {
		defer close(txs)
		defer close(errs)
		defer closeAll()
		if err := f.pump(ctx, msgs, txs); err != nil {
			errs <- err
		}
	}()
	return txs, errs, nil
}

// pump forwards deliveries until ctx ends or the broker closes the channel.
// A delivery is acked only when the event is settled as applied; a failed
// apply, or an event still in hand at shutdown, is requeued.
func (f *FeedClient) pump(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- models.Tx) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return apperr.ErrFeedClosed.WithDetails(fmt.Sprintf("amqp queue %s", f.Queue))
			}
			tx, err := DecodeTx(d.Body, f.currency)
			if err != nil {
				f.logger.Warn("Dropping malformed transaction event", "queue", f.Queue, "error", err)
				_ = d.Reject(false)
				continue
			}
			select {
			case out <- tx.WithSettle(f.settler(d)):
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (f *FeedClient) settler(d amqp.Delivery) func(error) {
	return func(applyErr error) {
		if applyErr == nil {
			if err := d.Ack(false); err != nil {
				f.logger.Warn("Failed to ack delivery", "queue", f.Queue, "delivery_tag", d.DeliveryTag, "error", err)
			}
			return
		}
		if err := d.Nack(false, true); err != nil {
			f.logger.Warn("Failed to requeue delivery", "queue", f.Queue, "delivery_tag", d.DeliveryTag, "error", err)
		}
	}
}

// DecodeTx parses a normalized transaction event. The currency defaults to
// the feed's own and must match it when present.
func DecodeTx(body []byte, currency models.Currency) (models.Tx, error) {
	var tx models.Tx
	if err := json.Unmarshal(body, &tx); err != nil {
		return models.Tx{}, err
	}
	if tx.Currency == "" {
		tx.Currency = currency
	}
	tx.Currency = models.ParseCurrency(string(tx.Currency))
	if tx.Currency != currency {
		return models.Tx{}, fmt.Errorf("event for %s on the %s feed", tx.Currency, currency)
	}
	if strings.TrimSpace(tx.Hash) == "" {
		return models.Tx{}, fmt.Errorf("event without hash")
	}
	switch tx.Status {
	case models.TxValidating, models.TxConfirmed, models.TxRejected:
	default:
		return models.Tx{}, fmt.Errorf("unknown status %q", tx.Status)
	}
	return tx, nil
}

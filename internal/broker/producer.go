package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

const (
	DefaultExchange = "bps.events"
	PaidRoutingKey  = "invoice.paid"
)

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func dial(rawURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := sanitizeURL(rawURL)
	if err != nil {
		return nil, nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// TxRoutingKey is the key normalized transaction events of a currency are
// published under.
func TxRoutingKey(c models.Currency) string {
	return "tx." + strings.ToLower(string(c))
}

// InvoicePaidEvent is published once per UNPAID -> PAID transition.
type InvoicePaidEvent struct {
	InvoiceID string          `json:"invoice_id"`
	Currency  models.Currency `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Received  decimal.Decimal `json:"received"`
	Address   string          `json:"address"`
	Tag       models.Tag      `json:"tag"`
	PaidAt    time.Time       `json:"paid_at"`
}

func NewInvoicePaidEvent(inv *models.Invoice) InvoicePaidEvent {
	ev := InvoicePaidEvent{
		InvoiceID: inv.ID,
		Currency:  inv.Currency,
		Amount:    inv.Amount,
		Received:  inv.Received,
		Address:   inv.Address,
		Tag:       inv.Tag,
	}
	if inv.PaidAt != nil {
		ev.PaidAt = *inv.PaidAt
	}
	return ev
}

// Producer publishes JSON events to a durable topic exchange.
type Producer struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	channel *amqp.Channel
}

func NewProducer(amqpURL, exchange string, logger *slog.Logger) (*Producer, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Producer{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends body as JSON. A failed publish reopens the channel and is
// retried once.
func (p *Producer) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("Publish failed; reopening channel", "exchange", p.exchange, "routing_key", routingKey, "error", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	p.channel = ch
	if err := declareExchange(ch, p.exchange); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Producer) InvoicePaid(ctx context.Context, inv *models.Invoice) error {
	return p.Publish(ctx, PaidRoutingKey, NewInvoicePaidEvent(inv))
}

// PublishTx is used by upstream indexers (and tests) to feed the gateway.
func (p *Producer) PublishTx(ctx context.Context, tx models.Tx) error {
	return p.Publish(ctx, TxRoutingKey(tx.Currency), tx)
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

type Sent struct {
	Amount  decimal.Decimal
	Address string
	Tag     models.Tag
}

// Client replays a scripted feed. Every Subscribe call pops the next
// session: its transactions are delivered, then the feed ends with Err (or
// stays open until ctx is done when Err is nil and it is the last session).
type Client struct {
	Cur        models.Currency
	Addr       string
	Bal        decimal.Decimal
	AddressErr error
	SendErr    error

	mu        sync.Mutex
	sessions  []Session
	subscribe int
	sent      []Sent
}

type Session struct {
	Txs []models.Tx
	Err error
	// DialErr makes Subscribe itself fail.
	DialErr error
}

func New(c models.Currency, sessions ...Session) *Client {
	return &Client{Cur: c, sessions: sessions}
}

func (c *Client) Currency() models.Currency { return c.Cur }

func (c *Client) Balance(context.Context) (decimal.Decimal, error) { return c.Bal, nil }

func (c *Client) Address(context.Context) (string, error) {
	if c.AddressErr != nil {
		return "", c.AddressErr
	}
	return c.Addr, nil
}

func (c *Client) SendPayment(_ context.Context, amount decimal.Decimal, address string, tag models.Tag) (string, error) {
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{Amount: amount, Address: address, Tag: tag})
	return "fake-tx", nil
}

func (c *Client) SentPayments() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribe
}

func (c *Client) Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error) {
	c.mu.Lock()
	c.subscribe++
	var s Session
	last := len(c.sessions) <= 1
	if len(c.sessions) > 0 {
		s = c.sessions[0]
		c.sessions = c.sessions[1:]
	} else {
		s = Session{Err: errors.New("no more sessions")}
	}
	c.mu.Unlock()

	if s.DialErr != nil {
		return nil, nil, s.DialErr
	}
	txs := make(chan models.Tx)
	errs := make(chan error, 1)
	go func() {
		defer close(txs)
		defer close(errs)
		for _, tx := range s.Txs {
			select {
			case txs <- tx:
			case <-ctx.Done():
				return
			}
		}
		if s.Err != nil {
			errs <- s.Err
			return
		}
		if last {
			<-ctx.Done()
		}
	}()
	return txs, errs, nil
}

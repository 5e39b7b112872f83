package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

// RippledClient follows a single XRP account through the rippled websocket
// API. Invoices share the account and are told apart by DestinationTag.
type RippledClient struct {
	endpoint string
	address  string
	secret   string
	logger   *slog.Logger
}

func NewRippledClient(cfg Config, logger *slog.Logger) (Client, error) {
	endpoint := cfg.WSEndpoint
	if endpoint == "" && len(cfg.Endpoints) > 0 {
		endpoint = WSEndpoint(cfg.Endpoints[0])
	}
	if endpoint == "" {
		return nil, errors.New("xrp: ws endpoint is required")
	}
	if cfg.Address == "" {
		return nil, errors.New("xrp: account address is required")
	}
	return &RippledClient{
		endpoint: endpoint,
		address:  cfg.Address,
		secret:   cfg.Secret,
		logger:   logger,
	}, nil
}

func (c *RippledClient) Currency() models.Currency { return models.XRP }

func (c *RippledClient) request(ctx context.Context, command map[string]any, out any) error {
	ws := NewWSClient(c.endpoint)
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	defer ws.Close()
	return ws.Request(ctx, command, out)
}

func (c *RippledClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	var res struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	}
	err := c.request(ctx, map[string]any{
		"command":      "account_info",
		"account":      c.address,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return decimal.Zero, err
	}
	drops, err := strconv.ParseInt(res.AccountData.Balance, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("xrp balance %q: %w", res.AccountData.Balance, err)
	}
	return fromMicro(drops), nil
}

func (c *RippledClient) Address(_ context.Context) (string, error) {
	return c.address, nil
}

// SendPayment uses rippled's sign-and-submit mode, so the node must be
// trusted with the account secret.
func (c *RippledClient) SendPayment(ctx context.Context, amount decimal.Decimal, address string, tag models.Tag) (string, error) {
	if c.secret == "" {
		return "", errors.New("xrp: account secret is not configured")
	}
	txJSON := map[string]any{
		"TransactionType": "Payment",
		"Account":         c.address,
		"Destination":     address,
		"Amount":          strconv.FormatInt(toMicro(amount), 10),
	}
	if tag.Valid {
		txJSON["DestinationTag"] = tag.Value
	}
	var res struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	err := c.request(ctx, map[string]any{
		"command": "submit",
		"secret":  c.secret,
		"tx_json": txJSON,
	}, &res)
	if err != nil {
		return "", err
	}
	// ter* codes are provisional and may still apply.
	if r := res.EngineResult; !strings.HasPrefix(r, "tes") && !strings.HasPrefix(r, "ter") {
		return "", fmt.Errorf("xrp submit: %s %s", res.EngineResult, res.EngineResultMessage)
	}
	return res.TxJSON.Hash, nil
}

// Subscribe listens to both proposed and validated transactions of the
// account, so each payment is usually seen VALIDATING first and CONFIRMED
// once its ledger closes.
func (c *RippledClient) Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error) {
	ws := NewWSClient(c.endpoint)
	if err := ws.Connect(ctx); err != nil {
		return nil, nil, err
	}
	err := ws.Request(ctx, map[string]any{
		"command":           "subscribe",
		"accounts":          []string{c.address},
		"accounts_proposed": []string{c.address},
	}, nil)
	if err != nil {
		ws.Close()
		return nil, nil, err
	}
	c.logger.Info("Subscribed to rippled account stream", "endpoint", c.endpoint, "account", c.address)

	txs := make(chan models.Tx)
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(txs)
		defer close(errs)
		defer close(done)
		defer ws.Close()
		for {
			msg, err := ws.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("xrp stream: %w", err)
				}
				return
			}
			tx, ok, err := ParseRippledTx(msg)
			if err != nil {
				c.logger.Warn("Skipping unreadable rippled message", "error", err)
				continue
			}
			if !ok || tx.Destination != c.address {
				continue
			}
			select {
			case txs <- tx:
			case <-ctx.Done():
				return
			}
		}
	}()
	return txs, errs, nil
}

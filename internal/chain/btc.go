package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

// BitcoindClient talks JSON-RPC to a bitcoind wallet. Incoming payments are
// found by polling listsinceblock with the confirmation threshold as target,
// so a transaction keeps being reported until it is deep enough.
type BitcoindClient struct {
	rpc       *MultiRPCClient
	logger    *slog.Logger
	threshold int64
	interval  time.Duration
	deriver   *AddressDeriver
	nextIndex atomic.Uint32

	mu        sync.Mutex
	lastBlock string
}

func NewBitcoindClient(cfg Config, logger *slog.Logger) (Client, error) {
	rpc, err := NewMultiRPCClient(cfg.Endpoints, cfg.FailThreshold)
	if err != nil {
		return nil, fmt.Errorf("btc: %w", err)
	}
	rpc.WithBasicAuth(cfg.RPCUser, cfg.RPCPassword)

	c := &BitcoindClient{
		rpc:       rpc,
		logger:    logger,
		threshold: cfg.Confirmations,
		interval:  cfg.PollInterval,
	}
	if c.threshold <= 0 {
		c.threshold = 1
	}
	if c.interval <= 0 {
		c.interval = 30 * time.Second
	}
	if cfg.XPub != "" {
		params, err := NetworkParams(cfg.Network)
		if err != nil {
			return nil, err
		}
		c.deriver = &AddressDeriver{XPub: cfg.XPub, Network: params}
		c.nextIndex.Store(cfg.AddressIndex)
	}
	return c, nil
}

func (c *BitcoindClient) Currency() models.Currency { return models.BTC }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *BitcoindClient) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{JSONRPC: "1.0", ID: "bps", Method: method, Params: params}
	return c.rpc.Do(ctx, func(ctx context.Context, rc *RPCClient) error {
		var resp rpcResponse
		if err := rc.PostJSON(ctx, "/", req, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return fmt.Errorf("bitcoind %s: %d %s", method, resp.Error.Code, resp.Error.Message)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	})
}

func (c *BitcoindClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	var bal decimal.Decimal
	if err := c.call(ctx, "getbalance", &bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

// Address derives the next child of the configured xpub, or asks the wallet
// for a fresh address when no xpub is set.
func (c *BitcoindClient) Address(ctx context.Context) (string, error) {
	if c.deriver != nil {
		idx := c.nextIndex.Add(1) - 1
		return c.deriver.DeriveBTC(idx)
	}
	var addr string
	if err := c.call(ctx, "getnewaddress", &addr, "bps", "bech32"); err != nil {
		return "", err
	}
	return addr, nil
}

// SendPayment ignores tag: bitcoin has no destination tag.
func (c *BitcoindClient) SendPayment(ctx context.Context, amount decimal.Decimal, address string, _ models.Tag) (string, error) {
	var txid string
	if err := c.call(ctx, "sendtoaddress", &txid, address, json.Number(amount.StringFixed(8))); err != nil {
		return "", err
	}
	return txid, nil
}

type sinceBlock struct {
	Transactions []struct {
		Address       string          `json:"address"`
		Category      string          `json:"category"`
		Amount        decimal.Decimal `json:"amount"`
		Confirmations int64           `json:"confirmations"`
		TxID          string          `json:"txid"`
		Vout          int             `json:"vout"`
	} `json:"transactions"`
	LastBlock string `json:"lastblock"`
}

// Poll runs one listsinceblock round and returns the incoming transfers it
// saw. The cursor only moves after a successful call.
func (c *BitcoindClient) Poll(ctx context.Context) ([]models.Tx, error) {
	c.mu.Lock()
	since := c.lastBlock
	c.mu.Unlock()

	var res sinceBlock
	if err := c.call(ctx, "listsinceblock", &res, since, c.threshold); err != nil {
		return nil, err
	}

	// listsinceblock lists every output; outputs of one transaction to the
	// same address are a single payment to the invoice behind it.
	type output struct{ txid, address string }
	seen := make(map[output]int)
	out := make([]models.Tx, 0, len(res.Transactions))
	for _, t := range res.Transactions {
		if t.Category != "receive" {
			continue
		}
		key := output{t.TxID, t.Address}
		if i, ok := seen[key]; ok {
			out[i].Amount = out[i].Amount.Add(t.Amount)
			continue
		}
		seen[key] = len(out)
		out = append(out, models.Tx{
			Currency:      models.BTC,
			Hash:          t.TxID,
			Destination:   t.Address,
			Amount:        t.Amount,
			Status:        btcStatus(t.Confirmations, c.threshold),
			Confirmations: max(t.Confirmations, 0),
		})
	}

	c.mu.Lock()
	c.lastBlock = res.LastBlock
	c.mu.Unlock()
	return out, nil
}

func btcStatus(confirmations, threshold int64) models.TxStatus {
	switch {
	case confirmations < 0:
		// conflicted with a transaction in the main chain
		return models.TxRejected
	case confirmations >= threshold:
		return models.TxConfirmed
	}
	return models.TxValidating
}

func (c *BitcoindClient) Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error) {
	return pollFeed(ctx, c.interval, c.logger, c.Poll)
}

// pollFeed turns a polling function into a Subscribe feed. The feed ends on
// the first failed poll.
func pollFeed(ctx context.Context, interval time.Duration, logger *slog.Logger, poll func(context.Context) ([]models.Tx, error)) (<-chan models.Tx, <-chan error, error) {
	txs := make(chan models.Tx)
	errs := make(chan error, 1)

	go func() {
		defer close(txs)
		defer close(errs)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			batch, err := poll(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					errs <- err
				}
				return
			}
			if len(batch) > 0 {
				logger.Debug("Polled transactions", "count", len(batch))
			}
			for _, tx := range batch {
				select {
				case txs <- tx:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return txs, errs, nil
}

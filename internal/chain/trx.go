package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

const maxBlocksPerPoll = 100

// TronClient polls a java-tron full node over its HTTP wallet API. The tag
// of a transfer travels hex-encoded in raw_data.data.
type TronClient struct {
	rpc       *MultiRPCClient
	logger    *slog.Logger
	address   string
	secret    string
	threshold int64
	interval  time.Duration
	deriver   *AddressDeriver
	nextIndex atomic.Uint32

	mu sync.Mutex
	// scanned is the highest block already reported at full depth.
	scanned int64
}

func NewTronClient(cfg Config, logger *slog.Logger) (Client, error) {
	rpc, err := NewMultiRPCClient(cfg.Endpoints, cfg.FailThreshold)
	if err != nil {
		return nil, fmt.Errorf("trx: %w", err)
	}
	if cfg.Address == "" && cfg.XPub == "" {
		return nil, errors.New("trx: address or xpub is required")
	}
	c := &TronClient{
		rpc:       rpc,
		logger:    logger,
		address:   cfg.Address,
		secret:    cfg.Secret,
		threshold: cfg.Confirmations,
		interval:  cfg.PollInterval,
	}
	if c.threshold <= 0 {
		c.threshold = 19
	}
	if c.interval <= 0 {
		c.interval = 3 * time.Second
	}
	if cfg.StartBlock > 0 {
		c.scanned = cfg.StartBlock - 1
	}
	if cfg.XPub != "" {
		c.deriver = &AddressDeriver{XPub: cfg.XPub}
		c.nextIndex.Store(cfg.AddressIndex)
	}
	return c, nil
}

func (c *TronClient) Currency() models.Currency { return models.TRX }

func (c *TronClient) post(ctx context.Context, path string, body, out any) error {
	return c.rpc.Do(ctx, func(ctx context.Context, rc *RPCClient) error {
		return rc.PostJSON(ctx, path, body, out)
	})
}

func (c *TronClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	var acc struct {
		Balance int64 `json:"balance"`
	}
	if err := c.post(ctx, "/wallet/getaccount", map[string]any{"address": c.address, "visible": true}, &acc); err != nil {
		return decimal.Zero, err
	}
	return fromMicro(acc.Balance), nil
}

func (c *TronClient) Address(_ context.Context) (string, error) {
	if c.deriver != nil {
		return c.deriver.DeriveTRX(c.nextIndex.Add(1) - 1)
	}
	return c.address, nil
}

func (c *TronClient) SendPayment(ctx context.Context, amount decimal.Decimal, address string, tag models.Tag) (string, error) {
	if c.secret == "" {
		return "", errors.New("trx: signing key is not configured")
	}
	var tx map[string]any
	err := c.post(ctx, "/wallet/createtransaction", map[string]any{
		"to_address":    address,
		"owner_address": c.address,
		"amount":        toMicro(amount),
		"visible":       true,
	}, &tx)
	if err != nil {
		return "", err
	}
	raw, ok := tx["raw_data"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("trx: createtransaction returned no raw_data: %v", tx["Error"])
	}
	if tag.Valid {
		raw["data"] = strconv.FormatInt(tag.Value, 16)
	}

	var signed map[string]any
	if err := c.post(ctx, "/wallet/gettransactionsign", map[string]any{"transaction": tx, "privateKey": c.secret}, &signed); err != nil {
		return "", err
	}
	var result struct {
		Result  bool   `json:"result"`
		TxID    string `json:"txid"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/wallet/broadcasttransaction", signed, &result); err != nil {
		return "", err
	}
	if !result.Result {
		return "", fmt.Errorf("trx: broadcast failed: %s %s", result.Code, result.Message)
	}
	if result.TxID != "" {
		return result.TxID, nil
	}
	id, _ := signed["txID"].(string)
	return id, nil
}

type tronBlock struct {
	BlockHeader struct {
		RawData struct {
			Number int64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
	Transactions []tronTx `json:"transactions"`
}

type tronTx struct {
	TxID string `json:"txID"`
	Ret  []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Data     string `json:"data"`
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount       int64  `json:"amount"`
					OwnerAddress string `json:"owner_address"`
					ToAddress    string `json:"to_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

func (c *TronClient) nowBlock(ctx context.Context) (int64, error) {
	var b tronBlock
	if err := c.post(ctx, "/wallet/getnowblock", map[string]any{"visible": true}, &b); err != nil {
		return 0, err
	}
	return b.BlockHeader.RawData.Number, nil
}

func (c *TronClient) blockByNum(ctx context.Context, num int64) (*tronBlock, error) {
	var b tronBlock
	if err := c.post(ctx, "/wallet/getblockbynum", map[string]any{"num": num, "visible": true}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Poll reports every transfer to the deposit address from the blocks that
// are not yet at full depth, re-reporting them on later polls with a growing
// confirmation count.
func (c *TronClient) Poll(ctx context.Context) ([]models.Tx, error) {
	head, err := c.nowBlock(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	scanned := c.scanned
	c.mu.Unlock()
	if scanned == 0 {
		scanned = max(head-c.threshold-1, 0)
	}
	to := min(head, scanned+maxBlocksPerPoll)

	var out []models.Tx
	for n := scanned + 1; n <= to; n++ {
		block, err := c.blockByNum(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("trx block %d: %w", n, err)
		}
		out = append(out, c.transfers(block, head-n)...)
	}

	if deep := to - c.threshold; deep > scanned {
		scanned = deep
	}
	c.mu.Lock()
	c.scanned = scanned
	c.mu.Unlock()
	return out, nil
}

func (c *TronClient) transfers(b *tronBlock, depth int64) []models.Tx {
	var out []models.Tx
	for _, t := range b.Transactions {
		if len(t.RawData.Contract) == 0 || t.RawData.Contract[0].Type != "TransferContract" {
			continue
		}
		v := t.RawData.Contract[0].Parameter.Value
		if c.deriver == nil && v.ToAddress != c.address {
			continue
		}
		out = append(out, models.Tx{
			Currency:      models.TRX,
			Hash:          t.TxID,
			Tag:           parseHexTag(t.RawData.Data),
			Destination:   v.ToAddress,
			Amount:        fromMicro(v.Amount),
			Status:        tronStatus(t, depth, c.threshold),
			Confirmations: depth,
		})
	}
	return out
}

func tronStatus(t tronTx, depth, threshold int64) models.TxStatus {
	if len(t.Ret) > 0 && t.Ret[0].ContractRet != "" && t.Ret[0].ContractRet != "SUCCESS" {
		return models.TxRejected
	}
	if depth < threshold {
		return models.TxValidating
	}
	return models.TxConfirmed
}

func parseHexTag(data string) models.Tag {
	data = strings.TrimPrefix(strings.TrimSpace(data), "0x")
	if data == "" {
		return models.Tag{}
	}
	v, err := strconv.ParseInt(data, 16, 64)
	if err != nil {
		return models.Tag{}
	}
	return models.NewTag(v)
}

func (c *TronClient) Subscribe(ctx context.Context) (<-chan models.Tx, <-chan error, error) {
	return pollFeed(ctx, c.interval, c.logger, c.Poll)
}

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"BPSGateway/internal/models"
)

// WSClient is a single rippled websocket connection.
type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn

	mu     sync.Mutex
	nextID int
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Send writes a command and returns the id it was tagged with.
func (c *WSClient) Send(command map[string]any) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	command["id"] = c.nextID
	return c.nextID, c.Conn.WriteJSON(command)
}

func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// Request sends command and waits for the response carrying the same id,
// skipping stream messages that arrive in between.
func (c *WSClient) Request(ctx context.Context, command map[string]any, out any) error {
	id, err := c.Send(command)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := c.Read(ctx)
		if err != nil {
			return err
		}
		var env wsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return err
		}
		if env.Type != "response" || env.ID != id {
			continue
		}
		if env.Status != "success" {
			return fmt.Errorf("rippled %v: %s %s", command["command"], env.Error, env.ErrorMessage)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(env.Result, out)
	}
}

type wsEnvelope struct {
	ID           int             `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
	Result       json.RawMessage `json:"result"`
}

type rippledTxJSON struct {
	TransactionType string          `json:"TransactionType"`
	Destination     string          `json:"Destination"`
	DestinationTag  *int64          `json:"DestinationTag"`
	Amount          json.RawMessage `json:"Amount"`
	Hash            string          `json:"hash"`
}

type rippledStreamTx struct {
	Type         string         `json:"type"`
	Validated    bool           `json:"validated"`
	EngineResult string         `json:"engine_result"`
	Hash         string         `json:"hash"`
	Transaction  *rippledTxJSON `json:"transaction"`
	TxJSON       *rippledTxJSON `json:"tx_json"`
	Meta         struct {
		DeliveredAmount json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

// ParseRippledTx converts a transaction stream message into a Tx. ok is false
// for messages that are not native XRP payments.
func ParseRippledTx(msg []byte) (models.Tx, bool, error) {
	var m rippledStreamTx
	if err := json.Unmarshal(msg, &m); err != nil {
		return models.Tx{}, false, err
	}
	if m.Type != "transaction" {
		return models.Tx{}, false, nil
	}
	tx := m.Transaction
	if tx == nil {
		tx = m.TxJSON
	}
	if tx == nil || tx.TransactionType != "Payment" {
		return models.Tx{}, false, nil
	}

	raw := tx.Amount
	if len(m.Meta.DeliveredAmount) > 0 && string(m.Meta.DeliveredAmount) != "\"unavailable\"" {
		raw = m.Meta.DeliveredAmount
	}
	amount, native, err := parseDrops(raw)
	if err != nil {
		return models.Tx{}, false, err
	}
	if !native {
		return models.Tx{}, false, nil
	}

	hash := tx.Hash
	if hash == "" {
		hash = m.Hash
	}
	var tag models.Tag
	if tx.DestinationTag != nil {
		tag = models.NewTag(*tx.DestinationTag)
	}
	return models.Tx{
		Currency:    models.XRP,
		Hash:        hash,
		Tag:         tag,
		Destination: tx.Destination,
		Amount:      amount,
		Status:      rippledStatus(m.Validated, m.EngineResult),
	}, true, nil
}

func rippledStatus(validated bool, result string) models.TxStatus {
	switch {
	case result != "" && !strings.HasPrefix(result, "tes"):
		return models.TxRejected
	case validated && result == "tesSUCCESS":
		return models.TxConfirmed
	}
	return models.TxValidating
}

// parseDrops reads a rippled amount. Native XRP is a string of drops; issued
// currencies are objects and reported as non-native.
func parseDrops(raw json.RawMessage) (decimal.Decimal, bool, error) {
	if len(raw) == 0 {
		return decimal.Zero, false, errors.New("missing amount")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero, false, nil
	}
	drops, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("bad drops amount %q: %w", s, err)
	}
	return fromMicro(drops), true, nil
}

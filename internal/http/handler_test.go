package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BPSGateway/internal/chain"
	"BPSGateway/internal/chain/chaintest"
	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/payments"
	"BPSGateway/internal/reconcile"
	"BPSGateway/internal/rules"
	"BPSGateway/internal/services"
	"BPSGateway/internal/store"
)

type testAPI struct {
	router http.Handler
	engine *reconcile.Engine
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryKV()
	table := rules.Default()
	inv := invoices.New(kv, table, logger)
	xrp := chaintest.New(models.XRP)
	xrp.Addr = "rGateway"
	xrp.Bal = decimal.RequireFromString("7.5")

	gw := services.GatewayService{
		Invoices: inv,
		Payments: payments.New(kv, table, logger),
		Clients:  map[models.Currency]chain.Client{models.XRP: xrp},
		Rules:    table,
		Logger:   logger,
		NewTag:   func() int64 { return 77 },
	}
	engine := reconcile.NewEngine(inv, table, logger, 8)
	srv := NewServer(NewHandler(gw, engine), logger, nil)
	return testAPI{router: srv.Router, engine: engine}
}

func (a testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestInvoiceLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/invoices", map[string]any{"currency": "xrp", "amount": "10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Invoice](t, rec)
	assert.Equal(t, models.XRP, created.Currency)
	assert.Equal(t, "rGateway", created.Address)
	assert.Equal(t, models.NewTag(77), created.Tag)

	api.engine.Handle(context.Background(), models.Tx{
		Currency:    models.XRP,
		Hash:        "h1",
		Destination: "rGateway",
		Tag:         models.NewTag(77),
		Amount:      decimal.NewFromInt(10),
		Status:      models.TxConfirmed,
	})

	rec = api.do(t, http.MethodGet, "/invoices/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.Invoice](t, rec)
	assert.Equal(t, models.InvoicePaid, got.Status)
	assert.Equal(t, "10", got.Received.String())
	require.NotNil(t, got.PaidAt)

	rec = api.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[statsResponse](t, rec)
	assert.Equal(t, uint64(1), stats.Engine.Paid)
	assert.Equal(t, 0, stats.Unpaid[models.XRP])
}

func TestCreateInvoiceValidation(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"zero amount", map[string]any{"currency": "BTC", "amount": "0", "address": "a"}, "invalid_argument"},
		{"unknown currency", map[string]any{"currency": "DOGE", "amount": "1", "address": "a"}, "invalid_argument"},
		{"no address and no client", map[string]any{"currency": "BTC", "amount": "1"}, "invalid_argument"},
		{"bad amount", map[string]any{"currency": "BTC", "amount": "ten"}, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/invoices", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, string(resp.Code))
		})
	}
}

func TestGetUnknownInvoice(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/invoices/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", string(decode[errorResponse](t, rec).Code))
}

func TestPayments(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/payments", map[string]any{
		"currency": "XRP", "amount": "2", "address": "rDest", "tag": 5, "send": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     string `json:"id"`
		TxHash string `json:"tx_hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "fake-tx", created.TxHash)

	rec = api.do(t, http.MethodGet, "/payments/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"address":"rDest"`)

	rec = api.do(t, http.MethodGet, "/payments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBalance(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/balances/xrp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"currency":"XRP","balance":"7.5"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/balances/btc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

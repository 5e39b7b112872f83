package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BPSGateway/internal/chain"
	"BPSGateway/internal/chain/chaintest"
	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/invoices"
	"BPSGateway/internal/models"
	"BPSGateway/internal/payments"
	"BPSGateway/internal/rules"
	"BPSGateway/internal/store"
)

func newTestService(t *testing.T, table rules.Table, clients ...*chaintest.Client) GatewayService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryKV()
	m := make(map[models.Currency]chain.Client)
	for _, c := range clients {
		m[c.Currency()] = c
	}
	return GatewayService{
		Invoices: invoices.New(kv, table, logger),
		Payments: payments.New(kv, table, logger),
		Clients:  m,
		Rules:    table,
		Logger:   logger,
		NewTag:   func() int64 { return 4242 },
	}
}

func TestCreateInvoiceFillsAddressAndTag(t *testing.T) {
	xrp := chaintest.New(models.XRP)
	xrp.Addr = "rGateway"
	svc := newTestService(t, rules.Default(), xrp)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		Currency: models.XRP,
		Amount:   decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "rGateway", inv.Address)
	assert.Equal(t, models.NewTag(4242), inv.Tag)
	assert.Equal(t, models.InvoiceUnpaid, inv.Status)
}

func TestCreateInvoiceKeepsCallerValues(t *testing.T) {
	svc := newTestService(t, rules.Default())

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		Currency: models.BTC,
		Amount:   decimal.NewFromInt(10),
		Address:  "addr1",
		Tag:      models.NewTag(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "addr1", inv.Address)
	assert.Equal(t, models.NewTag(1), inv.Tag)
}

func TestCreateInvoiceAddressOnlyCurrencyGetsNoTag(t *testing.T) {
	table := rules.Default().With(rules.Rule{Currency: models.BTC, ConfirmationThreshold: 1})
	btc := chaintest.New(models.BTC)
	btc.Addr = "bc1qfresh"
	svc := newTestService(t, table, btc)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{Currency: models.BTC, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "bc1qfresh", inv.Address)
	assert.False(t, inv.Tag.Valid)
}

func TestCreateInvoiceErrors(t *testing.T) {
	broken := chaintest.New(models.TRX)
	broken.AddressErr = errors.New("node down")
	svc := newTestService(t, rules.Default(), broken)
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, CreateInvoiceRequest{Currency: "DOGE", Amount: decimal.NewFromInt(1), Address: "a"})
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))

	_, err = svc.CreateInvoice(ctx, CreateInvoiceRequest{Currency: models.BTC, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrEmptyAddress)

	_, err = svc.CreateInvoice(ctx, CreateInvoiceRequest{Currency: models.TRX, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, apperr.UpstreamFeed, apperr.CodeOf(err))

	_, err = svc.CreateInvoice(ctx, CreateInvoiceRequest{Currency: models.TRX, Amount: decimal.Zero, Address: "a"})
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))
}

func TestCreatePaymentSends(t *testing.T) {
	trx := chaintest.New(models.TRX)
	svc := newTestService(t, rules.Default(), trx)
	ctx := context.Background()

	p, txHash, err := svc.CreatePayment(ctx, CreatePaymentRequest{
		Currency: models.TRX,
		Amount:   decimal.NewFromInt(3),
		Address:  "TDest",
		Tag:      models.NewTag(9),
		Send:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "fake-tx", txHash)
	require.Len(t, trx.SentPayments(), 1)
	assert.Equal(t, "TDest", trx.SentPayments()[0].Address)
	assert.Equal(t, models.NewTag(9), trx.SentPayments()[0].Tag)

	got, err := svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestCreatePaymentSendFailureKeepsRecord(t *testing.T) {
	trx := chaintest.New(models.TRX)
	trx.SendErr = errors.New("broadcast rejected")
	svc := newTestService(t, rules.Default(), trx)
	ctx := context.Background()

	p, _, err := svc.CreatePayment(ctx, CreatePaymentRequest{Currency: models.TRX, Amount: decimal.NewFromInt(3), Address: "TDest", Send: true})
	require.Error(t, err)
	require.NotNil(t, p)
	_, err = svc.GetPayment(ctx, p.ID)
	assert.NoError(t, err)
}

func TestCreatePaymentRecordOnly(t *testing.T) {
	svc := newTestService(t, rules.Default())

	p, txHash, err := svc.CreatePayment(context.Background(), CreatePaymentRequest{Currency: models.BTC, Amount: decimal.NewFromInt(1), Address: "addr"})
	require.NoError(t, err)
	assert.Empty(t, txHash)
	assert.NotEmpty(t, p.ID)
}

func TestBalance(t *testing.T) {
	xrp := chaintest.New(models.XRP)
	xrp.Bal = decimal.NewFromInt(20)
	svc := newTestService(t, rules.Default(), xrp)

	bal, err := svc.Balance(context.Background(), models.XRP)
	require.NoError(t, err)
	assert.Equal(t, "20", bal.String())

	_, err = svc.Balance(context.Background(), models.BTC)
	assert.Error(t, err)
}

func TestRandomTagRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := RandomTag()
		assert.GreaterOrEqual(t, v, int64(0))
		assert.Less(t, v, int64(1<<31-1))
	}
}

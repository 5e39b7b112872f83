package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	BTC Currency = "BTC"
	TRX Currency = "TRX"
	XRP Currency = "XRP"
)

// ParseCurrency normalizes a ticker; it does not check support, the rule
// table does.
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "UNPAID"
	InvoicePaid   InvoiceStatus = "PAID"
)

type TxStatus string

const (
	TxValidating TxStatus = "VALIDATING"
	TxConfirmed  TxStatus = "CONFIRMED"
	TxRejected   TxStatus = "REJECTED"
)

// TxID identifies a transaction as seen by one invoice. Chains that share a
// deposit address carry the tag as part of the identity.
type TxID struct {
	Hash string `json:"hash"`
	Tag  Tag    `json:"tag"`
}

// Tx is the currency-agnostic view of a chain transaction.
type Tx struct {
	Currency      Currency        `json:"currency"`
	Hash          string          `json:"hash"`
	Tag           Tag             `json:"tag"`
	Destination   string          `json:"destination"`
	Amount        decimal.Decimal `json:"amount"`
	Status        TxStatus        `json:"status"`
	Confirmations int64           `json:"confirmations,omitempty"`

	settle func(err error)
}

func (t Tx) ID() TxID {
	return TxID{Hash: t.Hash, Tag: t.Tag}
}

// WithSettle returns a copy of t that reports to fn once it has been handled.
// Feeds that need acknowledgement (AMQP) attach it.
func (t Tx) WithSettle(fn func(err error)) Tx {
	t.settle = fn
	return t
}

// Settle reports the outcome of handling t: nil when it was applied, an error
// when it has to be delivered again.
func (t Tx) Settle(err error) {
	if t.settle != nil {
		t.settle(err)
	}
}

type Invoice struct {
	ID            string          `json:"id"`
	Currency      Currency        `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Address       string          `json:"address"`
	Tag           Tag             `json:"tag"`
	Received      decimal.Decimal `json:"received"`
	TxIDs         []TxID          `json:"tx_ids"`
	CreditedTxIDs []TxID          `json:"credited_tx_ids"`
	Status        InvoiceStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

func (i *Invoice) HasTx(id TxID) bool {
	return containsTxID(i.TxIDs, id)
}

func (i *Invoice) HasCredited(id TxID) bool {
	return containsTxID(i.CreditedTxIDs, id)
}

func (i *Invoice) IsPaid() bool {
	return i.Status == InvoicePaid
}

// Clone returns a deep copy that shares nothing mutable with i.
func (i *Invoice) Clone() *Invoice {
	cp := *i
	cp.TxIDs = append([]TxID(nil), i.TxIDs...)
	cp.CreditedTxIDs = append([]TxID(nil), i.CreditedTxIDs...)
	if i.PaidAt != nil {
		paidAt := *i.PaidAt
		cp.PaidAt = &paidAt
	}
	return &cp
}

func containsTxID(ids []TxID, id TxID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Payment is a record of intent to pay out; it is never matched against
// incoming transactions.
type Payment struct {
	ID        string          `json:"id"`
	Currency  Currency        `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Address   string          `json:"address"`
	CreatedAt time.Time       `json:"created_at"`
}

package rules

import (
	"sort"

	"BPSGateway/internal/models"
)

// Rule is the matching policy of one currency.
type Rule struct {
	Currency models.Currency
	// RequiresTagMatch is set for chains where many invoices share one
	// deposit address and are told apart by the tag.
	RequiresTagMatch bool
	// ConfirmationThreshold is the chain depth at which a still-VALIDATING
	// transaction counts as credited. Zero disables depth-based crediting.
	ConfirmationThreshold int64
}

func (r Rule) Matches(inv *models.Invoice, tx models.Tx) bool {
	if inv.Currency != tx.Currency || inv.Address != tx.Destination {
		return false
	}
	return !r.RequiresTagMatch || inv.Tag == tx.Tag
}

// TxID is the identity a transaction is recorded and credited under. The tag
// only takes part when it is also used for matching.
func (r Rule) TxID(tx models.Tx) models.TxID {
	if !r.RequiresTagMatch {
		return models.TxID{Hash: tx.Hash}
	}
	return tx.ID()
}

func (r Rule) IsCredited(tx models.Tx) bool {
	switch tx.Status {
	case models.TxConfirmed:
		return true
	case models.TxRejected:
		return false
	}
	return r.ConfirmationThreshold > 0 && tx.Confirmations >= r.ConfirmationThreshold
}

// Table maps each supported currency to its rule. A currency missing from
// the table is unsupported.
type Table map[models.Currency]Rule

// Default is the table the gateway ships with: every supported chain
// generates a tag per invoice.
func Default() Table {
	return Table{
		models.BTC: {Currency: models.BTC, RequiresTagMatch: true, ConfirmationThreshold: 1},
		models.TRX: {Currency: models.TRX, RequiresTagMatch: true, ConfirmationThreshold: 3},
		models.XRP: {Currency: models.XRP, RequiresTagMatch: true, ConfirmationThreshold: 1},
	}
}

func (t Table) Lookup(c models.Currency) (Rule, bool) {
	r, ok := t[c]
	return r, ok
}

func (t Table) Supports(c models.Currency) bool {
	_, ok := t[c]
	return ok
}

// With returns a copy of t with r set for r.Currency.
func (t Table) With(r Rule) Table {
	out := make(Table, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[r.Currency] = r
	return out
}

func (t Table) Currencies() []models.Currency {
	out := make([]models.Currency, 0, len(t))
	for c := range t {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

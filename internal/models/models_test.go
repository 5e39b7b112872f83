package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagJSON(t *testing.T) {
	var got struct {
		A Tag `json:"a"`
		B Tag `json:"b"`
		C Tag `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":null}`), &got))
	assert.Equal(t, NewTag(42), got.A)
	assert.False(t, got.B.Valid)
	assert.False(t, got.C.Valid)

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":42,"b":null,"c":null}`, string(out))
}

func TestTagIdentity(t *testing.T) {
	assert.NotEqual(t, TxID{Hash: "h1"}, TxID{Hash: "h1", Tag: NewTag(0)}, "absent tag differs from tag 0")
	assert.Equal(t, TxID{Hash: "h1", Tag: NewTag(7)}, Tx{Hash: "h1", Tag: NewTag(7)}.ID())
}

func TestInvoiceCloneIsDeep(t *testing.T) {
	inv := &Invoice{
		ID:       "inv",
		Amount:   decimal.NewFromInt(10),
		Received: decimal.Zero,
		TxIDs:    []TxID{{Hash: "a"}},
	}
	cp := inv.Clone()
	cp.TxIDs = append(cp.TxIDs, TxID{Hash: "b"})
	cp.TxIDs[0].Hash = "z"

	assert.True(t, inv.HasTx(TxID{Hash: "a"}))
	assert.False(t, inv.HasTx(TxID{Hash: "b"}))
	assert.False(t, inv.HasCredited(TxID{Hash: "a"}))
}

func TestParseCurrency(t *testing.T) {
	assert.Equal(t, BTC, ParseCurrency(" btc "))
	assert.Equal(t, Currency("DOGE"), ParseCurrency("doge"))
}

package chain

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BPSGateway/internal/models"
)

func testXPub(t *testing.T, params *chaincfg.Params) (string, string) {
	t.Helper()
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x42}, 32), params)
	require.NoError(t, err)
	pub, err := master.Neuter()
	require.NoError(t, err)
	return pub.String(), master.String()
}

func TestDeriveBTC(t *testing.T) {
	xpub, _ := testXPub(t, &chaincfg.MainNetParams)
	d := AddressDeriver{XPub: xpub, Network: &chaincfg.MainNetParams}

	a0, err := d.DeriveBTC(0)
	require.NoError(t, err)
	a1, err := d.DeriveBTC(1)
	require.NoError(t, err)
	again, err := d.DeriveBTC(0)
	require.NoError(t, err)

	assert.NotEqual(t, a0, a1)
	assert.Equal(t, a0, again)
	assert.True(t, len(a0) > 4 && a0[:4] == "bc1q", a0)
	assert.NoError(t, ValidateBTCAddress(a0, &chaincfg.MainNetParams))
}

func TestDeriveTRX(t *testing.T) {
	xpub, _ := testXPub(t, &chaincfg.MainNetParams)
	d := AddressDeriver{XPub: xpub}

	addr, err := d.DeriveTRX(3)
	require.NoError(t, err)
	assert.Equal(t, byte('T'), addr[0])
	assert.NoError(t, ValidateTRXAddress(addr))
}

func TestDeriverRejectsBadKeys(t *testing.T) {
	_, err := AddressDeriver{}.DeriveBTC(0)
	assert.Error(t, err)

	_, xprv := testXPub(t, &chaincfg.MainNetParams)
	_, err = AddressDeriver{XPub: xprv}.DeriveBTC(0)
	assert.Error(t, err)

	_, err = AddressDeriver{XPub: "xpub-garbage"}.DeriveTRX(0)
	assert.Error(t, err)
}

func TestNetworkParams(t *testing.T) {
	p, err := NetworkParams("")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.MainNetParams.Name, p.Name)

	p, err = NetworkParams("RegTest")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.RegressionNetParams.Name, p.Name)

	_, err = NetworkParams("dogenet")
	assert.Error(t, err)
}

func TestAddressValidator(t *testing.T) {
	validate := AddressValidator(&chaincfg.MainNetParams)

	tests := []struct {
		currency models.Currency
		address  string
		valid    bool
	}{
		{models.BTC, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},
		{models.BTC, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", true},
		{models.BTC, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", false},
		{models.BTC, "not-an-address", false},
		{models.TRX, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", false},
		{models.TRX, "TJRabPrwbZy45sbavfcjinPJC18kjpRTv0", false},
		{models.XRP, xrpAccount, true},
		{models.XRP, "rShort", false},
		{models.XRP, "x" + xrpAccount[1:], false},
		{models.XRP, "r0OlI" + xrpAccount[5:], false},
		{"DOGE", "anything", true},
	}
	for _, tt := range tests {
		err := validate(tt.currency, tt.address)
		if tt.valid {
			assert.NoError(t, err, "%s %s", tt.currency, tt.address)
		} else {
			assert.Error(t, err, "%s %s", tt.currency, tt.address)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []models.Currency{models.BTC, models.TRX, models.XRP}, r.Currencies())

	_, err := r.New("DOGE", Config{}, discardLogger())
	assert.Error(t, err)

	c, err := r.New(models.XRP, Config{WSEndpoint: "ws://localhost:6006", Address: xrpAccount}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, models.XRP, c.Currency())

	_, err = r.New(models.BTC, Config{}, discardLogger())
	assert.Error(t, err)
}

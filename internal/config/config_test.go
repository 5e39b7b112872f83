package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BPSGateway/internal/models"
)

const sample = `
server:
  addr: ":8080"
store:
  backend: memory
currencies:
  btc:
    enabled: true
    tag_match: false
    confirmations: 2
    rpc_endpoints: ["http://btc-a:8332", "http://btc-b:8332"]
    rpc_user: rpc
    rpc_password: secret
    poll_interval_seconds: 15
  xrp:
    enabled: true
    ws_endpoint: "wss://s1.ripple.com"
    address: rGateway
  trx:
    enabled: false
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "@every 5m", cfg.Worker.AuditSchedule)
	assert.Equal(t, []models.Currency{models.BTC, models.XRP}, cfg.EnabledCurrencies())
	assert.Equal(t, SourceNode, cfg.Currencies["BTC"].Source)
}

func TestRules(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	table := cfg.Rules()
	assert.Len(t, table, 2)
	assert.False(t, table[models.BTC].RequiresTagMatch)
	assert.Equal(t, int64(2), table[models.BTC].ConfirmationThreshold)
	assert.True(t, table[models.XRP].RequiresTagMatch)
	assert.Equal(t, int64(1), table[models.XRP].ConfirmationThreshold)
	assert.False(t, table.Supports(models.TRX))
}

func TestClientConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	btc := cfg.ClientConfig(models.BTC)
	assert.Equal(t, []string{"http://btc-a:8332", "http://btc-b:8332"}, btc.Endpoints)
	assert.Equal(t, "rpc", btc.RPCUser)
	assert.Equal(t, 15*time.Second, btc.PollInterval)
	assert.Equal(t, int64(2), btc.Confirmations)

	xrp := cfg.ClientConfig(models.XRP)
	assert.Equal(t, "rGateway", xrp.Address)
	assert.Equal(t, int64(1), xrp.Confirmations)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TRX_ENABLED", "true")
	t.Setenv("TRX_ADDRESS", "TDeposit")
	t.Setenv("TRX_RPC_ENDPOINTS", "http://tron-a:8090, ,http://tron-b:8090")
	t.Setenv("TRX_CONFIRMATIONS", "19")
	t.Setenv("BTC_TAG_MATCH", "true")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, []models.Currency{models.BTC, models.TRX, models.XRP}, cfg.EnabledCurrencies())

	trx := cfg.Currencies["TRX"]
	assert.Equal(t, "TDeposit", trx.Address)
	assert.Equal(t, []string{"http://tron-a:8090", "http://tron-b:8090"}, trx.RPCEndpoints)
	assert.Equal(t, int64(19), cfg.Rules()[models.TRX].ConfirmationThreshold)
	assert.True(t, cfg.Rules()[models.BTC].RequiresTagMatch)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing addr", "currencies: {btc: {enabled: true}}"},
		{"no currency", "server: {addr: ':1'}"},
		{"unsupported currency", "server: {addr: ':1'}\ncurrencies: {doge: {enabled: true}}"},
		{"postgres without dsn", "server: {addr: ':1'}\nstore: {backend: postgres}\ncurrencies: {btc: {enabled: true}}"},
		{"unknown backend", "server: {addr: ':1'}\nstore: {backend: mongo}\ncurrencies: {btc: {enabled: true}}"},
		{"amqp without url", "server: {addr: ':1'}\ncurrencies: {btc: {enabled: true, source: amqp}}"},
		{"negative confirmations", "server: {addr: ':1'}\ncurrencies: {btc: {enabled: true, confirmations: -1}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

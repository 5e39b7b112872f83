package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"BPSGateway/internal/chain"
	"BPSGateway/internal/models"
	"BPSGateway/internal/rules"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	SourceNode = "node"
	SourceAMQP = "amqp"
)

type Config struct {
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Store struct {
		Backend   string `yaml:"backend"`
		Namespace string `yaml:"namespace"`
	} `yaml:"store"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Broker struct {
		AMQPURL     string `yaml:"amqp_url"`
		Exchange    string `yaml:"exchange"`
		PublishPaid bool   `yaml:"publish_paid"`
	} `yaml:"broker"`
	Engine struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"engine"`
	Worker struct {
		AuditSchedule     string `yaml:"audit_schedule"`
		MaxBackoffSeconds int64  `yaml:"max_backoff_seconds"`
	} `yaml:"worker"`
	Currencies map[string]CurrencyConfig `yaml:"currencies"`
}

type CurrencyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Source is where transactions come from: the node itself or an AMQP feed.
	Source              string   `yaml:"source"`
	TagMatch            *bool    `yaml:"tag_match"`
	Confirmations       int64    `yaml:"confirmations"`
	RPCEndpoints        []string `yaml:"rpc_endpoints"`
	WSEndpoint          string   `yaml:"ws_endpoint"`
	RPCUser             string   `yaml:"rpc_user"`
	RPCPassword         string   `yaml:"rpc_password"`
	Address             string   `yaml:"address"`
	Secret              string   `yaml:"secret"`
	XPub                string   `yaml:"xpub"`
	Network             string   `yaml:"network"`
	AddressIndex        uint32   `yaml:"address_index"`
	StartBlock          int64    `yaml:"start_block"`
	PollIntervalSeconds int64    `yaml:"poll_interval_seconds"`
	FailoverThreshold   int      `yaml:"failover_threshold"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() {
	currencies := make(map[string]CurrencyConfig, len(cfg.Currencies))
	for name, cc := range cfg.Currencies {
		if cc.Source == "" {
			cc.Source = SourceNode
		}
		currencies[string(models.ParseCurrency(name))] = cc
	}
	cfg.Currencies = currencies
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Worker.AuditSchedule == "" {
		cfg.Worker.AuditSchedule = "@every 5m"
	}
}

func (cfg *Config) validate() error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres store")
		}
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", cfg.Store.Backend)
	}
	if cfg.Broker.PublishPaid && cfg.Broker.AMQPURL == "" {
		return errors.New("broker.amqp_url is required to publish paid invoices")
	}

	known := rules.Default()
	enabled := 0
	for name, cc := range cfg.Currencies {
		if !cc.Enabled {
			continue
		}
		enabled++
		if !known.Supports(models.Currency(name)) {
			return fmt.Errorf("currency %s is not supported", name)
		}
		switch cc.Source {
		case SourceNode:
		case SourceAMQP:
			if cfg.Broker.AMQPURL == "" {
				return fmt.Errorf("currencies.%s: broker.amqp_url is required for an amqp source", name)
			}
		default:
			return fmt.Errorf("currencies.%s: unknown source %q", name, cc.Source)
		}
		if cc.Confirmations < 0 {
			return fmt.Errorf("currencies.%s: confirmations must not be negative", name)
		}
	}
	if enabled == 0 {
		return errors.New("no currency is enabled")
	}
	return nil
}

// EnabledCurrencies returns the enabled currencies in a stable order.
func (cfg *Config) EnabledCurrencies() []models.Currency {
	var out []models.Currency
	for name, cc := range cfg.Currencies {
		if cc.Enabled {
			out = append(out, models.Currency(name))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rules builds the matching table for the enabled currencies, starting from
// the shipped defaults.
func (cfg *Config) Rules() rules.Table {
	defaults := rules.Default()
	table := rules.Table{}
	for _, c := range cfg.EnabledCurrencies() {
		cc := cfg.Currencies[string(c)]
		r := defaults[c]
		if cc.TagMatch != nil {
			r.RequiresTagMatch = *cc.TagMatch
		}
		if cc.Confirmations > 0 {
			r.ConfirmationThreshold = cc.Confirmations
		}
		table[c] = r
	}
	return table
}

func (cfg *Config) ClientConfig(c models.Currency) chain.Config {
	cc := cfg.Currencies[string(c)]
	threshold := cc.Confirmations
	if threshold == 0 {
		threshold = rules.Default()[c].ConfirmationThreshold
	}
	return chain.Config{
		Endpoints:     cc.RPCEndpoints,
		WSEndpoint:    cc.WSEndpoint,
		RPCUser:       cc.RPCUser,
		RPCPassword:   cc.RPCPassword,
		FailThreshold: cc.FailoverThreshold,
		Confirmations: threshold,
		PollInterval:  time.Duration(cc.PollIntervalSeconds) * time.Second,
		StartBlock:    cc.StartBlock,
		Address:       cc.Address,
		Secret:        cc.Secret,
		XPub:          cc.XPub,
		Network:       cc.Network,
		AddressIndex:  cc.AddressIndex,
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitCommaList(v)
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STORE_NAMESPACE"); v != "" {
		cfg.Store.Namespace = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Broker.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.Broker.Exchange = v
	}
	if v := os.Getenv("ENGINE_QUEUE_SIZE"); v != "" {
		cfg.Engine.QueueSize = atoiOr(cfg.Engine.QueueSize, v)
	}
	if v := os.Getenv("AUDIT_SCHEDULE"); v != "" {
		cfg.Worker.AuditSchedule = v
	}
	if v := os.Getenv("WORKER_MAX_BACKOFF_SECONDS"); v != "" {
		cfg.Worker.MaxBackoffSeconds = atoi64Or(cfg.Worker.MaxBackoffSeconds, v)
	}

	for _, c := range rules.Default().Currencies() {
		prefix := string(c) + "_"
		cc, ok := cfg.Currencies[string(c)]
		changed := false
		set := func(key string, apply func(v string)) {
			if v := os.Getenv(prefix + key); v != "" {
				apply(v)
				changed = true
			}
		}
		set("ENABLED", func(v string) { cc.Enabled = boolOr(cc.Enabled, v) })
		set("SOURCE", func(v string) { cc.Source = strings.ToLower(v) })
		set("TAG_MATCH", func(v string) {
			b := boolOr(cc.TagMatch != nil && *cc.TagMatch, v)
			cc.TagMatch = &b
		})
		set("CONFIRMATIONS", func(v string) { cc.Confirmations = atoi64Or(cc.Confirmations, v) })
		set("RPC_ENDPOINTS", func(v string) { cc.RPCEndpoints = splitCommaList(v) })
		set("WS_ENDPOINT", func(v string) { cc.WSEndpoint = v })
		set("RPC_USER", func(v string) { cc.RPCUser = v })
		set("RPC_PASSWORD", func(v string) { cc.RPCPassword = v })
		set("ADDRESS", func(v string) { cc.Address = v })
		set("SECRET", func(v string) { cc.Secret = v })
		set("XPUB", func(v string) { cc.XPub = v })
		if !changed {
			continue
		}
		if !ok && cc.Source == "" {
			cc.Source = SourceNode
		}
		if cfg.Currencies == nil {
			cfg.Currencies = make(map[string]CurrencyConfig)
		}
		cfg.Currencies[string(c)] = cc
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

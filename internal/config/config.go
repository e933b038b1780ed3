package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Telegram TelegramConfig `yaml:"telegram"`
	Price    PriceConfig    `yaml:"price"`
	Storage  StorageConfig  `yaml:"storage"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ============================================================
// CHAIN CONFIG
// ============================================================

type ChainConfig struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

type NodeConfig struct {
	Label string `yaml:"label"`
	RPC   string `yaml:"rpc"`
	WS    string `yaml:"ws"`
}

// ============================================================
// TELEGRAM / PRICE / STORAGE CONFIG
// ============================================================

type TelegramConfig struct {
	Token       string `yaml:"token"`
	APIURL      string `yaml:"api_url"`
	PollTimeout string `yaml:"poll_timeout"`
}

type PriceConfig struct {
	APIURL  string `yaml:"api_url"`
	CoinID  string `yaml:"coin_id"`
	Timeout string `yaml:"timeout"`
}

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// ============================================================
// ADVANCED CONFIG
// ============================================================

type AdvancedConfig struct {
	RPCTimeout    string           `yaml:"rpc_timeout"`
	WSTimeout     string           `yaml:"ws_timeout"`
	DashboardPort int              `yaml:"dashboard_port"`
	Prometheus    PrometheusConfig `yaml:"prometheus"`
	LogLevel      string           `yaml:"log_level"`
}

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix"`
	Port          int    `yaml:"port"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "30s"
	}
	if c.Price.APIURL == "" {
		c.Price.APIURL = "https://api.coingecko.com/api/v3"
	}
	if c.Price.CoinID == "" {
		c.Price.CoinID = "nimiq-2"
	}
	if c.Price.Timeout == "" {
		c.Price.Timeout = "10s"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Advanced.RPCTimeout == "" {
		c.Advanced.RPCTimeout = "10s"
	}
	if c.Advanced.WSTimeout == "" {
		c.Advanced.WSTimeout = "90s"
	}
	if c.Advanced.Prometheus.MetricsPrefix == "" {
		c.Advanced.Prometheus.MetricsPrefix = "election_bot"
	}
	if c.Advanced.LogLevel == "" {
		c.Advanced.LogLevel = "info"
	}
	for i := range c.Chain.Nodes {
		if c.Chain.Nodes[i].Label == "" {
			c.Chain.Nodes[i].Label = c.Chain.Nodes[i].RPC
		}
	}
}

// ApplyOverrides copies values set through flags or environment variables on
// top of the file configuration. It is called once at startup.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if s := v.GetString("telegram.token"); s != "" {
		c.Telegram.Token = s
	}
	if s := v.GetString("storage.dsn"); s != "" {
		c.Storage.DSN = s
		c.Storage.Driver = StoragePostgres
	}
	if s := v.GetString("advanced.log_level"); s != "" {
		c.Advanced.LogLevel = s
	}

	rpcURL, wsURL := v.GetString("chain.rpc"), v.GetString("chain.ws")
	if rpcURL == "" && wsURL == "" {
		return
	}
	if len(c.Chain.Nodes) == 0 {
		c.Chain.Nodes = append(c.Chain.Nodes, NodeConfig{Label: "env"})
	}
	if rpcURL != "" {
		c.Chain.Nodes[0].RPC = rpcURL
		if c.Chain.Nodes[0].Label == "" {
			c.Chain.Nodes[0].Label = rpcURL
		}
	}
	if wsURL != "" {
		c.Chain.Nodes[0].WS = wsURL
	}
}

// Validate reports the first missing setting the bot cannot start without.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token (or TELEGRAM_BOT_TOKEN) is required")
	}
	if len(c.Chain.Nodes) == 0 {
		return errors.New("at least one chain node is required")
	}
	hasWS := false
	for _, n := range c.Chain.Nodes {
		if n.RPC == "" {
			return errors.Errorf("node %q has no rpc url", n.Label)
		}
		if n.WS != "" {
			hasWS = true
		}
	}
	if !hasWS {
		return errors.New("at least one chain node needs a ws url for the election block stream")
	}
	switch c.Storage.Driver {
	case StorageFile:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

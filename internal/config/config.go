package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Chain     ChainConfig     `yaml:"chain"`
	Market    MarketConfig    `yaml:"market"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Bot       BotConfig       `yaml:"bot"`
	Candles   CandlesConfig   `yaml:"candles"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChainConfig struct {
	NetworkName string        `yaml:"network_name"`
	ProviderURI string        `yaml:"provider_uri"`
	PrivateKey  string        `yaml:"-"`
	ABIDir      string        `yaml:"abi_dir"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MarketConfig struct {
	Symbol           string        `yaml:"symbol"`
	Inverse          bool          `yaml:"inverse"`
	Tick             float64       `yaml:"tick"`
	PriceUpdateLimit time.Duration `yaml:"price_update_limit"`
}

const (
	PriceKindSimple      = "simple"
	PriceKindRollingBand = "rolling_band"
	PriceKindATRBand     = "atr_band"
)

type StrategyConfig struct {
	Price PriceConfig `yaml:"price"`
	Size  SizeConfig  `yaml:"size"`
}

type PriceConfig struct {
	Kind       string  `yaml:"kind"`
	Diff       float64 `yaml:"diff"`
	TimePeriod int     `yaml:"timeperiod"`
	DiffK      float64 `yaml:"diff_k"`
}

type SizeConfig struct {
	UnitLotSize float64 `yaml:"unit_lot_size"`
}

type GatewayConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	DeadlineWindow   time.Duration `yaml:"deadline_window"`
	FeasibilityTries int           `yaml:"feasibility_tries"`
	MaxSlippage      *float64      `yaml:"max_slippage"`
}

type BotConfig struct {
	TradeInterval  time.Duration `yaml:"trade_interval"`
	InfoInterval   time.Duration `yaml:"info_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
	Restart        *bool         `yaml:"restart"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

func (b BotConfig) RestartValue() bool {
	return b.Restart == nil || *b.Restart
}

type CandlesConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Symbol         string        `yaml:"symbol"`
	Interval       string        `yaml:"interval"`
	Limit          int           `yaml:"limit"`
	Timeout        time.Duration `yaml:"timeout"`
	Stream         bool          `yaml:"stream"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 30 * time.Second
	}
	if cfg.Chain.ABIDir == "" && cfg.Chain.NetworkName != "" {
		cfg.Chain.ABIDir = filepath.Join("/app/deps/perpdex-contract/deployments", cfg.Chain.NetworkName)
	}
	if cfg.Market.Symbol == "" {
		cfg.Market.Symbol = "ETH"
	}
	if cfg.Market.Tick == 0 {
		cfg.Market.Tick = 1
	}
	if cfg.Market.PriceUpdateLimit == 0 {
		cfg.Market.PriceUpdateLimit = 500 * time.Millisecond
	}
	if cfg.Strategy.Price.Kind == "" {
		cfg.Strategy.Price.Kind = PriceKindSimple
	}
	if cfg.Strategy.Price.Diff == 0 {
		cfg.Strategy.Price.Diff = 1
	}
	if cfg.Strategy.Price.TimePeriod == 0 {
		cfg.Strategy.Price.TimePeriod = 200
	}
	if cfg.Strategy.Price.DiffK == 0 {
		cfg.Strategy.Price.DiffK = 0.2
	}
	if cfg.Strategy.Size.UnitLotSize == 0 {
		cfg.Strategy.Size.UnitLotSize = 0.01
	}
	if cfg.Gateway.MaxAttempts == 0 {
		cfg.Gateway.MaxAttempts = 3
	}
	if cfg.Gateway.DeadlineWindow == 0 {
		cfg.Gateway.DeadlineWindow = 2 * time.Minute
	}
	if cfg.Gateway.FeasibilityTries == 0 {
		cfg.Gateway.FeasibilityTries = 32
	}
	if cfg.Bot.TradeInterval == 0 {
		cfg.Bot.TradeInterval = 60 * time.Second
	}
	if cfg.Bot.InfoInterval == 0 {
		cfg.Bot.InfoInterval = 60 * time.Second
	}
	if cfg.Bot.HealthInterval == 0 {
		cfg.Bot.HealthInterval = 10 * time.Second
	}
	if cfg.Bot.StopTimeout == 0 {
		cfg.Bot.StopTimeout = 30 * time.Second
	}
	if cfg.Bot.Restart == nil {
		restart := true
		cfg.Bot.Restart = &restart
	}
	if cfg.Candles.BaseURL == "" {
		cfg.Candles.BaseURL = "https://api.binance.com"
	}
	if cfg.Candles.WSURL == "" {
		cfg.Candles.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Candles.Symbol == "" {
		cfg.Candles.Symbol = "ETH/USDT"
	}
	if cfg.Candles.Interval == "" {
		cfg.Candles.Interval = "1m"
	}
	if cfg.Candles.Limit == 0 {
		cfg.Candles.Limit = 500
	}
	if cfg.Candles.Timeout == 0 {
		cfg.Candles.Timeout = 10 * time.Second
	}
	if cfg.Candles.ReconnectDelay == 0 {
		cfg.Candles.ReconnectDelay = 3 * time.Second
	}
	if cfg.Candles.PingInterval == 0 {
		cfg.Candles.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/perpdex-mm-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

// applyEnvOverrides maps the deployment environment onto the config. Values set in
// the environment win over the file.
func applyEnvOverrides(cfg *Config) error {
	if v := envString("WEB3_NETWORK_NAME"); v != "" {
		cfg.Chain.NetworkName = v
	}
	if v := envString("WEB3_PROVIDER_URI"); v != "" {
		cfg.Chain.ProviderURI = v
	}
	if v := envString("USER_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := envString("PERPDEX_CONTRACT_ABI_JSON_DIRPATH"); v != "" {
		cfg.Chain.ABIDir = v
	}
	if v := envString("PERPDEX_MARKET"); v != "" {
		cfg.Market.Symbol = v
	}
	if v := envString("PERPDEX_MARKET_INVERSE"); v != "" {
		inverse, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("PERPDEX_MARKET_INVERSE: %w", err)
		}
		cfg.Market.Inverse = inverse
	}
	if v := envString("UNIT_LOT_SIZE"); v != "" {
		lot, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("UNIT_LOT_SIZE: %w", err)
		}
		cfg.Strategy.Size.UnitLotSize = lot
	}
	if v := envString("PRICE_BAR_NUM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRICE_BAR_NUM: %w", err)
		}
		cfg.Strategy.Price.TimePeriod = n
	}
	if v := envString("PRICE_BAR_DIFF_K"); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PRICE_BAR_DIFF_K: %w", err)
		}
		cfg.Strategy.Price.DiffK = k
	}
	if v := envString("BINANCE_SPOT_SYMBOL"); v != "" {
		cfg.Candles.Symbol = v
	}
	if v := envString("MM_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := envString("MM_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := envString("MM_TIMESCALE_DSN"); v != "" {
		cfg.Timescale.DSN = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Chain.ProviderURI == "" {
		return errors.New("chain.provider_uri (WEB3_PROVIDER_URI) is required")
	}
	if cfg.Chain.NetworkName == "" {
		return errors.New("chain.network_name (WEB3_NETWORK_NAME) is required")
	}
	if cfg.Chain.ABIDir == "" {
		return errors.New("chain.abi_dir is required")
	}
	if cfg.Market.Tick <= 0 {
		return errors.New("market.tick must be > 0")
	}
	switch cfg.Strategy.Price.Kind {
	case PriceKindSimple:
		if cfg.Strategy.Price.Diff < 0 {
			return errors.New("strategy.price.diff must be >= 0")
		}
	case PriceKindRollingBand, PriceKindATRBand:
		if cfg.Strategy.Price.TimePeriod < 2 {
			return errors.New("strategy.price.timeperiod must be >= 2")
		}
		if cfg.Strategy.Price.DiffK < 0 {
			return errors.New("strategy.price.diff_k must be >= 0")
		}
		if cfg.Candles.Limit <= cfg.Strategy.Price.TimePeriod {
			return errors.New("candles.limit must exceed strategy.price.timeperiod")
		}
	default:
		return fmt.Errorf("unknown strategy.price.kind %q", cfg.Strategy.Price.Kind)
	}
	if cfg.Strategy.Size.UnitLotSize < 0 {
		return errors.New("strategy.size.unit_lot_size must be >= 0")
	}
	if cfg.Gateway.MaxAttempts < 1 {
		return errors.New("gateway.max_attempts must be >= 1")
	}
	if cfg.Gateway.RetryBackoff < 0 {
		return errors.New("gateway.retry_backoff must be >= 0")
	}
	if cfg.Gateway.DeadlineWindow <= 0 {
		return errors.New("gateway.deadline_window must be > 0")
	}
	if cfg.Gateway.FeasibilityTries < 1 {
		return errors.New("gateway.feasibility_tries must be >= 1")
	}
	if cfg.Gateway.MaxSlippage != nil && (*cfg.Gateway.MaxSlippage < 0 || *cfg.Gateway.MaxSlippage >= 1) {
		return errors.New("gateway.max_slippage must be in [0, 1)")
	}
	if cfg.Bot.TradeInterval <= 0 || cfg.Bot.InfoInterval <= 0 || cfg.Bot.HealthInterval <= 0 {
		return errors.New("bot intervals must be > 0")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// parseBool accepts strconv.ParseBool forms plus yes/no and on/off.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

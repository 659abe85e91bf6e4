package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                    `yaml:"env"` // auto, live, simulation
	Symbol      string                    `yaml:"symbol"`
	DataDir     string                    `yaml:"dataDir"`
	MetricsAddr string                    `yaml:"metricsAddr"`
	Web         WebConfig                 `yaml:"web"`
	Gateway     GatewayConfig             `yaml:"gateway"`
	Simulation  SimulationConfig          `yaml:"simulation"`
	Alert       AlertConfig               `yaml:"alert"`
	Log         logger.Config             `yaml:"log"`
	Trading     TradingParams             `yaml:"trading"`
	Symbols     map[string]SymbolOverride `yaml:"symbols"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GatewayConfig struct {
	APIKey    string  `yaml:"apiKey"`
	APISecret string  `yaml:"apiSecret"`
	BaseURL   string  `yaml:"baseURL"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RestRate  float64 `yaml:"restRate"`  // REST 限流：每秒令牌数
	RestBurst int     `yaml:"restBurst"` // REST 限流：最大突发令牌数
}

// SimulationConfig seeds the paper-trading exchange.
type SimulationConfig struct {
	InitialBalances map[string]float64 `yaml:"initialBalances"`
	FeeRate         float64            `yaml:"feeRate"`
}

type AlertConfig struct {
	WebhookURL      string `yaml:"webhookURL"`
	CooldownSeconds int    `yaml:"cooldownSeconds"`
}

// TradingParams are the symbol-independent defaults. Per-symbol overrides
// are merged once at load time by Resolve; nothing re-reads them afterwards.
type TradingParams struct {
	MinTradeAmount     float64 `yaml:"minTradeAmount"`     // 最小下单名义（计价货币）
	MaxPositionPercent float64 `yaml:"maxPositionPercent"` // 单笔占可用余额比例上限
	InitialBasePrice   float64 `yaml:"initialBasePrice"`   // 0 = 启动时智能计算
	InitialGrid        float64 `yaml:"initialGrid"`        // 初始网格大小（%）
	MinGridSize        float64 `yaml:"minGridSize"`
	MaxGridSize        float64 `yaml:"maxGridSize"`

	MaxPositionRatio  float64 `yaml:"maxPositionRatio"`
	MinPositionRatio  float64 `yaml:"minPositionRatio"`
	MaxDrawdown       float64 `yaml:"maxDrawdown"`    // negative, e.g. -0.15
	DailyLossLimit    float64 `yaml:"dailyLossLimit"` // negative, e.g. -0.05
	VolatilityWindow  int     `yaml:"volatilityWindow"`
	VolatilityWarn    float64 `yaml:"volatilityWarn"`
	VolatilityExtreme float64 `yaml:"volatilityExtreme"`
	RiskPauseSeconds  int     `yaml:"riskPauseSeconds"`

	ThrottleLimit         int `yaml:"throttleLimit"`
	ThrottleWindowSeconds int `yaml:"throttleWindowSeconds"`

	S1 S1Params `yaml:"s1"`

	GridTable              Table   `yaml:"gridTable"`
	IntervalTable          Table   `yaml:"intervalTable"`
	DefaultIntervalMinutes float64 `yaml:"defaultIntervalMinutes"`
}

// S1Params configure the position overlay.
type S1Params struct {
	Lookback             int     `yaml:"lookback"`
	SellTarget           float64 `yaml:"sellTarget"`
	BuyTarget            float64 `yaml:"buyTarget"`
	HighTrigger          float64 `yaml:"highTrigger"`
	LowTrigger           float64 `yaml:"lowTrigger"`
	CheckIntervalSeconds int     `yaml:"checkIntervalSeconds"`
	CooldownSeconds      int     `yaml:"cooldownSeconds"`
}

// SymbolOverride carries per-symbol values; nil pointers inherit defaults.
type SymbolOverride struct {
	InitialBasePrice   *float64 `yaml:"initialBasePrice"`
	InitialGrid        *float64 `yaml:"initialGrid"`
	MinGridSize        *float64 `yaml:"minGridSize"`
	MaxGridSize        *float64 `yaml:"maxGridSize"`
	MinTradeAmount     *float64 `yaml:"minTradeAmount"`
	MaxPositionPercent *float64 `yaml:"maxPositionPercent"`
	MaxPositionRatio   *float64 `yaml:"maxPositionRatio"`
	MinPositionRatio   *float64 `yaml:"minPositionRatio"`
	MaxDrawdown        *float64 `yaml:"maxDrawdown"`
	DailyLossLimit     *float64 `yaml:"dailyLossLimit"`
	S1Lookback         *int     `yaml:"s1Lookback"`
	GridTable          Table    `yaml:"gridTable"`
	IntervalTable      Table    `yaml:"intervalTable"`
}

// Settings is the immutable resolved configuration for one trading pair:
// defaults plus the symbol's override table, merged exactly once.
type Settings struct {
	Symbol string
	Base   string
	Quote  string
	TradingParams
}

// FlipThreshold is the extra confirmation margin beyond a band edge,
// derived from the initial grid size.
func (s Settings) FlipThreshold() float64 {
	return (s.InitialGrid / 5) / 100
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	// 空文件解析成零值后会被默认值全部填满,必须显式拒绝
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, fmt.Errorf("config file is empty: %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("GRID_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GRID_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, Validate(cfg)
}

func (c *AppConfig) applyDefaults() {
	if c.Env == "" {
		c.Env = "auto"
	}
	if c.Symbol == "" {
		c.Symbol = "BNB/USDT"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://api.binance.com"
	}
	if c.Gateway.TimeoutMs <= 0 {
		c.Gateway.TimeoutMs = 10000
	}
	if c.Gateway.RestRate <= 0 {
		c.Gateway.RestRate = 5
	}
	if c.Gateway.RestBurst <= 0 {
		c.Gateway.RestBurst = 10
	}
	if c.Simulation.FeeRate == 0 {
		c.Simulation.FeeRate = 0.001
	}
	if c.Alert.CooldownSeconds <= 0 {
		c.Alert.CooldownSeconds = 300
	}
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 58080
	}
	if c.Log.Level == "" {
		c.Log = logger.DefaultConfig()
	}

	t := &c.Trading
	if t.MinTradeAmount == 0 {
		t.MinTradeAmount = 20
	}
	if t.MaxPositionPercent == 0 {
		t.MaxPositionPercent = 0.15
	}
	if t.InitialGrid == 0 {
		t.InitialGrid = 2.0
	}
	if t.MinGridSize == 0 {
		t.MinGridSize = 1.0
	}
	if t.MaxGridSize == 0 {
		t.MaxGridSize = 4.0
	}
	if t.MaxPositionRatio == 0 {
		t.MaxPositionRatio = 0.9
	}
	if t.MinPositionRatio == 0 {
		t.MinPositionRatio = 0.1
	}
	if t.MaxDrawdown == 0 {
		t.MaxDrawdown = -0.15
	}
	if t.DailyLossLimit == 0 {
		t.DailyLossLimit = -0.05
	}
	if t.VolatilityWindow == 0 {
		t.VolatilityWindow = 24
	}
	if t.VolatilityWarn == 0 {
		t.VolatilityWarn = 0.1
	}
	if t.VolatilityExtreme == 0 {
		t.VolatilityExtreme = 0.2
	}
	if t.RiskPauseSeconds == 0 {
		t.RiskPauseSeconds = 60
	}
	if t.ThrottleLimit == 0 {
		t.ThrottleLimit = 10
	}
	if t.ThrottleWindowSeconds == 0 {
		t.ThrottleWindowSeconds = 60
	}
	if t.GridTable == nil {
		t.GridTable = DefaultGridTable()
	}
	if t.IntervalTable == nil {
		t.IntervalTable = DefaultIntervalTable()
	}
	if t.DefaultIntervalMinutes == 0 {
		t.DefaultIntervalMinutes = 1
	}

	s1 := &t.S1
	if s1.Lookback == 0 {
		s1.Lookback = 52
	}
	if s1.SellTarget == 0 {
		s1.SellTarget = 0.50
	}
	if s1.BuyTarget == 0 {
		s1.BuyTarget = 0.70
	}
	if s1.HighTrigger == 0 {
		s1.HighTrigger = 0.8
	}
	if s1.LowTrigger == 0 {
		s1.LowTrigger = 0.2
	}
	if s1.CheckIntervalSeconds == 0 {
		s1.CheckIntervalSeconds = 300
	}
	if s1.CooldownSeconds == 0 {
		s1.CooldownSeconds = 1800
	}
}

// Validate ensures required fields are present and tables are well-formed.
func Validate(cfg AppConfig) error {
	switch cfg.Env {
	case "auto", "live", "simulation":
	default:
		return fmt.Errorf("env must be auto/live/simulation, got %q", cfg.Env)
	}
	if _, _, err := SplitSymbol(cfg.Symbol); err != nil {
		return err
	}
	t := cfg.Trading
	if t.MinTradeAmount <= 0 {
		return errors.New("trading.minTradeAmount must be > 0")
	}
	if t.MaxPositionPercent <= 0 || t.MaxPositionPercent > 1 {
		return errors.New("trading.maxPositionPercent must be in (0,1]")
	}
	if t.MinGridSize > t.MaxGridSize {
		return errors.New("trading.minGridSize must not exceed maxGridSize")
	}
	if t.InitialGrid < t.MinGridSize || t.InitialGrid > t.MaxGridSize {
		return fmt.Errorf("trading.initialGrid %v outside [%v,%v]", t.InitialGrid, t.MinGridSize, t.MaxGridSize)
	}
	if t.MinPositionRatio >= t.MaxPositionRatio {
		return errors.New("trading.minPositionRatio must be below maxPositionRatio")
	}
	if t.MaxDrawdown >= 0 {
		return errors.New("trading.maxDrawdown must be negative")
	}
	if t.DailyLossLimit >= 0 {
		return errors.New("trading.dailyLossLimit must be negative")
	}
	if err := t.GridTable.Validate(); err != nil {
		return fmt.Errorf("trading.gridTable: %w", err)
	}
	if err := t.IntervalTable.Validate(); err != nil {
		return fmt.Errorf("trading.intervalTable: %w", err)
	}
	if t.S1.SellTarget >= t.S1.BuyTarget {
		return errors.New("trading.s1.sellTarget must be below buyTarget")
	}
	for sym, ov := range cfg.Symbols {
		if _, _, err := SplitSymbol(sym); err != nil {
			return fmt.Errorf("symbols.%s: %w", sym, err)
		}
		if ov.GridTable != nil {
			if err := ov.GridTable.Validate(); err != nil {
				return fmt.Errorf("symbols.%s.gridTable: %w", sym, err)
			}
		}
		if ov.IntervalTable != nil {
			if err := ov.IntervalTable.Validate(); err != nil {
				return fmt.Errorf("symbols.%s.intervalTable: %w", sym, err)
			}
		}
	}
	return nil
}

// SimulationMode reports whether to run against the paper exchange. In auto
// mode the decision follows whether real-looking API credentials exist.
func (c AppConfig) SimulationMode() bool {
	switch c.Env {
	case "simulation":
		return true
	case "live":
		return !hasRealKeys(c.Gateway)
	default:
		return !hasRealKeys(c.Gateway)
	}
}

func hasRealKeys(g GatewayConfig) bool {
	placeholders := map[string]bool{
		"placeholder": true, "example": true, "demo": true, "test": true,
	}
	key := strings.ToLower(g.APIKey)
	secret := strings.ToLower(g.APISecret)
	if key == "" || secret == "" || placeholders[key] || placeholders[secret] {
		return false
	}
	return len(g.APIKey) > 20 && len(g.APISecret) > 20
}

// SplitSymbol splits "BNB/USDT" into base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q must look like BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// Resolve merges the defaults with the symbol's override block into a fixed
// Settings record. Overrides are applied here and nowhere else.
func (c AppConfig) Resolve(symbol string) (Settings, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return Settings{}, err
	}
	s := Settings{
		Symbol:        symbol,
		Base:          base,
		Quote:         quote,
		TradingParams: c.Trading,
	}
	ov, ok := c.Symbols[symbol]
	if !ok {
		return s, nil
	}
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&s.InitialBasePrice, ov.InitialBasePrice)
	setF(&s.InitialGrid, ov.InitialGrid)
	setF(&s.MinGridSize, ov.MinGridSize)
	setF(&s.MaxGridSize, ov.MaxGridSize)
	setF(&s.MinTradeAmount, ov.MinTradeAmount)
	setF(&s.MaxPositionPercent, ov.MaxPositionPercent)
	setF(&s.MaxPositionRatio, ov.MaxPositionRatio)
	setF(&s.MinPositionRatio, ov.MinPositionRatio)
	setF(&s.MaxDrawdown, ov.MaxDrawdown)
	setF(&s.DailyLossLimit, ov.DailyLossLimit)
	if ov.S1Lookback != nil {
		s.S1.Lookback = *ov.S1Lookback
	}
	if ov.GridTable != nil {
		s.GridTable = ov.GridTable
	}
	if ov.IntervalTable != nil {
		s.IntervalTable = ov.IntervalTable
	}
	return s, nil
}

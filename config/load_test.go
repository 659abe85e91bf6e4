package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
symbol: BNB/USDT
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != "auto" {
		t.Errorf("Env = %q, want auto", cfg.Env)
	}
	if cfg.Trading.MinTradeAmount != 20 {
		t.Errorf("MinTradeAmount = %v, want 20", cfg.Trading.MinTradeAmount)
	}
	if cfg.Trading.InitialGrid != 2.0 {
		t.Errorf("InitialGrid = %v, want 2.0", cfg.Trading.InitialGrid)
	}
	if cfg.Trading.MaxDrawdown != -0.15 {
		t.Errorf("MaxDrawdown = %v, want -0.15", cfg.Trading.MaxDrawdown)
	}
	if cfg.Trading.ThrottleLimit != 10 || cfg.Trading.ThrottleWindowSeconds != 60 {
		t.Errorf("throttle defaults = %d/%ds, want 10/60s",
			cfg.Trading.ThrottleLimit, cfg.Trading.ThrottleWindowSeconds)
	}
	if cfg.Trading.S1.Lookback != 52 {
		t.Errorf("S1.Lookback = %d, want 52", cfg.Trading.S1.Lookback)
	}
	if len(cfg.Trading.GridTable) == 0 {
		t.Error("expected default grid table")
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad env", "env: production\nsymbol: BNB/USDT\n"},
		{"bad symbol", "symbol: BNBUSDT\n"},
		{"drawdown not negative", "symbol: BNB/USDT\ntrading:\n  maxDrawdown: 0.15\n"},
		{"grid below min", "symbol: BNB/USDT\ntrading:\n  initialGrid: 0.5\n  minGridSize: 1.0\n"},
		{"ratio inversion", "symbol: BNB/USDT\ntrading:\n  minPositionRatio: 0.9\n  maxPositionRatio: 0.1\n"},
		{"empty file", ""},
		{"whitespace only", "\n  \n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
symbol: BNB/USDT
gateway:
  apiKey: fromfile
  apiSecret: fromfile
`)
	t.Setenv("GRID_GATEWAY_API_KEY", "env-key-0123456789abcdef012345")
	t.Setenv("GRID_GATEWAY_API_SECRET", "env-secret-0123456789abcdef0123")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides: %v", err)
	}
	if cfg.Gateway.APIKey != "env-key-0123456789abcdef012345" {
		t.Errorf("APIKey = %q, want env value", cfg.Gateway.APIKey)
	}
	if cfg.SimulationMode() {
		t.Error("expected live mode with real-looking env keys")
	}
}

func TestSimulationModeDetection(t *testing.T) {
	cases := []struct {
		name string
		cfg  AppConfig
		want bool
	}{
		{"explicit simulation", AppConfig{Env: "simulation"}, true},
		{"auto without keys", AppConfig{Env: "auto"}, true},
		{"auto with placeholder", AppConfig{Env: "auto", Gateway: GatewayConfig{APIKey: "placeholder", APISecret: "placeholder"}}, true},
		{"auto with short keys", AppConfig{Env: "auto", Gateway: GatewayConfig{APIKey: "short", APISecret: "short"}}, true},
		{"auto with real keys", AppConfig{Env: "auto", Gateway: GatewayConfig{
			APIKey:    "abcdefghijklmnopqrstuvwxyz",
			APISecret: "abcdefghijklmnopqrstuvwxyz",
		}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.SimulationMode(); got != tc.want {
				t.Errorf("SimulationMode() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolveOverrides(t *testing.T) {
	path := writeTempConfig(t, `
symbol: BNB/USDT
trading:
  initialGrid: 2.0
symbols:
  ETH/USDT:
    initialGrid: 3.0
    minTradeAmount: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def, err := cfg.Resolve("BNB/USDT")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.InitialGrid != 2.0 || def.MinTradeAmount != 20 {
		t.Errorf("default settings = grid %v amount %v", def.InitialGrid, def.MinTradeAmount)
	}
	if def.Base != "BNB" || def.Quote != "USDT" {
		t.Errorf("split = %s/%s", def.Base, def.Quote)
	}

	eth, err := cfg.Resolve("ETH/USDT")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if eth.InitialGrid != 3.0 {
		t.Errorf("override InitialGrid = %v, want 3.0", eth.InitialGrid)
	}
	if eth.MinTradeAmount != 50 {
		t.Errorf("override MinTradeAmount = %v, want 50", eth.MinTradeAmount)
	}
	// 未覆盖的字段继承默认值
	if eth.MaxDrawdown != -0.15 {
		t.Errorf("inherited MaxDrawdown = %v, want -0.15", eth.MaxDrawdown)
	}
}

func TestFlipThreshold(t *testing.T) {
	s := Settings{TradingParams: TradingParams{InitialGrid: 2.0}}
	if got := s.FlipThreshold(); got != 0.004 {
		t.Errorf("FlipThreshold() = %v, want 0.004", got)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/trader"
	"grid-trader-go/internal/web"
	"grid-trader-go/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "交易对（覆盖配置文件，例如 BNB/USDT）")
	simulate := flag.Bool("simulate", false, "强制模拟盘")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	if *simulate {
		cfg.Env = "simulation"
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()

	alerts := buildAlertManager(cfg, lg)

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
	}

	gw, sim, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("初始化网关失败: %v", err)
	}
	defer gw.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("创建数据目录失败: %v", err)
	}
	book, err := ledger.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("打开台账失败: %v", err)
	}

	tr, err := trader.New(cfg, gw, book, alerts, lg)
	if err != nil {
		log.Fatalf("创建trader失败: %v", err)
	}
	if err := tr.Init(); err != nil {
		log.Fatalf("trader初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	webAddr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	if err := web.New(tr, sim, lg).Start(ctx, webAddr); err != nil {
		log.Fatalf("启动仪表盘失败: %v", err)
	}

	watcher, err := config.NewWatcher(*cfgPath, 0, func(newCfg config.AppConfig) error {
		if !tr.Queue(trader.Intent{Kind: trader.IntentReloadConfig, Config: &newCfg}) {
			return fmt.Errorf("intent queue full")
		}
		return nil
	})
	if err != nil {
		lg.LogError(err, map[string]interface{}{"op": "config_watcher"})
	} else {
		if err := watcher.Start(ctx); err != nil {
			lg.LogError(err, map[string]interface{}{"op": "config_watcher_start"})
		}
		defer watcher.Stop()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	startWatchdog(ctx)

	if err := tr.Run(ctx); err != nil {
		lg.LogError(err, map[string]interface{}{"op": "run"})
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	tr.Stop()
}

// buildGateway 按运行模式选择真实网关或模拟盘。
// 模拟盘用公开行情接口喂价，不需要API密钥。
func buildGateway(cfg config.AppConfig) (gateway.Gateway, *gateway.SimClient, error) {
	limiter := gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)
	httpCli := &http.Client{Timeout: time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond}
	binance := gateway.NewBinanceClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.APISecret,
		httpCli, limiter)
	if !cfg.SimulationMode() {
		return binance, nil, nil
	}
	sim := gateway.NewSimClient([]string{cfg.Symbol}, cfg.Simulation.InitialBalances,
		cfg.Simulation.FeeRate, binance)
	return sim, sim, nil
}

func buildAlertManager(cfg config.AppConfig, lg *logger.Logger) *alert.Manager {
	channels := []alert.Channel{alert.NewConsoleChannel("console")}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", cfg.Alert.WebhookURL, nil))
	}
	return alert.NewManager(channels, time.Duration(cfg.Alert.CooldownSeconds)*time.Second)
}

// startWatchdog 对接systemd看门狗（未启用时直接返回）
func startWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}

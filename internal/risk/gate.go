package risk

import (
	"fmt"
	"sync"
	"time"

	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/market"
)

// Config 风控参数
type Config struct {
	MinPositionRatio  float64 // 仓位下限
	MaxPositionRatio  float64 // 仓位上限
	MaxDrawdown       float64 // 最大回撤（负数）
	DailyLossLimit    float64 // 单日亏损上限（负数）
	VolatilityWindow  int     // 波动率价格窗口
	VolatilityWarn    float64
	VolatilityExtreme float64
	PauseDuration     time.Duration // 非紧急违规的暂停时长
}

// OrderCanceler 紧急停止时撤单用
type OrderCanceler interface {
	FetchOpenOrders(symbol string) ([]gateway.Order, error)
	CancelOrder(symbol, orderID string) error
}

// Result 单次风控评估结果
type Result struct {
	Allowed    bool
	State      State
	Violations []Violation
}

// Gate 每tick运行四项独立检查（仓位比例、回撤、当日亏损、波动率突变），
// 任一违规即否决本tick的下单。紧急级别违规单向锁死，重启前不再交易。
type Gate struct {
	cfg    Config
	symbol string
	clock  Clock
	alerts *alert.Manager
	log    *logger.Logger
	gw     OrderCanceler

	mu          sync.RWMutex
	state       State
	ath         float64
	dayAnchor   float64
	anchorDate  string // UTC日期，YYYY-MM-DD
	pausedUntil time.Time
	emergency   bool
	vol         *market.VolatilityCalculator
}

// NewGate 创建风控闸门
func NewGate(symbol string, cfg Config, alerts *alert.Manager, log *logger.Logger, gw OrderCanceler) *Gate {
	return NewGateWithClock(symbol, cfg, alerts, log, gw, realClock{})
}

// NewGateWithClock 注入时钟（测试用）
func NewGateWithClock(symbol string, cfg Config, alerts *alert.Manager, log *logger.Logger, gw OrderCanceler, clock Clock) *Gate {
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = time.Minute
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 24
	}
	return &Gate{
		cfg:    cfg,
		symbol: symbol,
		clock:  clock,
		alerts: alerts,
		log:    log,
		gw:     gw,
		vol:    market.NewVolatilityCalculator(cfg.VolatilityWindow),
	}
}

// SetConfig 热更新阈值。ATH、当日锚点与紧急锁死状态保持不变。
func (g *Gate) SetConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = time.Minute
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 24
	}
	if cfg.VolatilityWindow != g.cfg.VolatilityWindow {
		g.vol = market.NewVolatilityCalculator(cfg.VolatilityWindow)
	}
	g.cfg = cfg
}

// Check 评估所有检查项。price为最新价，baseValue为基础资产市值，
// totalAssets为总资产（计价货币）。
func (g *Gate) Check(price, baseValue, totalAssets float64) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UTC()

	// 紧急停止是单向的
	if g.emergency {
		return Result{Allowed: false, State: StateEmergency}
	}

	g.vol.AddPrice(price)
	g.updateAnchors(now, totalAssets)

	violations := g.evaluate(baseValue, totalAssets)
	for _, v := range violations {
		g.notify(v)
	}

	if worst := worstSeverity(violations); worst == SeverityEmergency {
		g.latchEmergency(violations)
		return Result{Allowed: false, State: StateEmergency, Violations: violations}
	} else if worst == SeverityPause {
		g.pausedUntil = now.Add(g.cfg.PauseDuration)
		g.state = StatePaused
		return Result{Allowed: false, State: StatePaused, Violations: violations}
	}

	// 暂停期内继续否决，到期自动恢复
	if now.Before(g.pausedUntil) {
		g.state = StatePaused
		return Result{Allowed: false, State: StatePaused, Violations: violations}
	}

	g.state = StateNormal
	return Result{Allowed: true, State: StateNormal, Violations: violations}
}

// updateAnchors 历史最高点单调不减；日锚点仅在UTC日期变化时重置
func (g *Gate) updateAnchors(now time.Time, totalAssets float64) {
	if totalAssets > g.ath {
		g.ath = totalAssets
	}
	today := now.Format("2006-01-02")
	if today != g.anchorDate {
		g.anchorDate = today
		g.dayAnchor = totalAssets
	}
}

func (g *Gate) evaluate(baseValue, totalAssets float64) []Violation {
	var out []Violation
	if totalAssets <= 0 {
		return out
	}

	ratio := baseValue / totalAssets
	if ratio < g.cfg.MinPositionRatio {
		out = append(out, Violation{
			Kind:     KindPositionLow,
			Severity: SeverityPause,
			Message:  fmt.Sprintf("position ratio %.4f below floor %.4f", ratio, g.cfg.MinPositionRatio),
			Value:    ratio,
			Limit:    g.cfg.MinPositionRatio,
		})
	} else if ratio > g.cfg.MaxPositionRatio {
		out = append(out, Violation{
			Kind:     KindPositionHigh,
			Severity: SeverityPause,
			Message:  fmt.Sprintf("position ratio %.4f above cap %.4f", ratio, g.cfg.MaxPositionRatio),
			Value:    ratio,
			Limit:    g.cfg.MaxPositionRatio,
		})
	}

	if g.ath > 0 {
		drawdown := (totalAssets - g.ath) / g.ath
		if drawdown < g.cfg.MaxDrawdown {
			out = append(out, Violation{
				Kind:     KindDrawdown,
				Severity: SeverityEmergency,
				Message:  fmt.Sprintf("drawdown %.4f breached %.4f", drawdown, g.cfg.MaxDrawdown),
				Value:    drawdown,
				Limit:    g.cfg.MaxDrawdown,
			})
		}
	}

	if g.dayAnchor > 0 {
		dailyPnl := (totalAssets - g.dayAnchor) / g.dayAnchor
		if dailyPnl < g.cfg.DailyLossLimit {
			out = append(out, Violation{
				Kind:     KindDailyLoss,
				Severity: SeverityEmergency,
				Message:  fmt.Sprintf("daily pnl %.4f breached %.4f", dailyPnl, g.cfg.DailyLossLimit),
				Value:    dailyPnl,
				Limit:    g.cfg.DailyLossLimit,
			})
		}
	}

	if g.vol.IsReady() {
		stddev := g.vol.StdDev()
		if stddev >= g.cfg.VolatilityExtreme {
			out = append(out, Violation{
				Kind:     KindVolatility,
				Severity: SeverityEmergency,
				Message:  fmt.Sprintf("volatility %.4f beyond extreme %.4f", stddev, g.cfg.VolatilityExtreme),
				Value:    stddev,
				Limit:    g.cfg.VolatilityExtreme,
			})
		} else if stddev >= g.cfg.VolatilityWarn {
			out = append(out, Violation{
				Kind:     KindVolatility,
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("volatility %.4f above warn %.4f", stddev, g.cfg.VolatilityWarn),
				Value:    stddev,
				Limit:    g.cfg.VolatilityWarn,
			})
		}
	}

	return out
}

func worstSeverity(violations []Violation) Severity {
	var worst Severity
	for _, v := range violations {
		if v.Severity > worst {
			worst = v.Severity
		}
	}
	return worst
}

// latchEmergency 撤掉全部挂单并锁死
func (g *Gate) latchEmergency(violations []Violation) {
	g.emergency = true
	g.state = StateEmergency

	if g.log != nil {
		g.log.LogRisk("emergency_stop", map[string]interface{}{
			"symbol":     g.symbol,
			"violations": len(violations),
		})
	}
	if g.alerts != nil {
		g.alerts.SendCritical("emergency stop latched", map[string]interface{}{
			"symbol": g.symbol,
		})
	}

	if g.gw == nil {
		return
	}
	orders, err := g.gw.FetchOpenOrders(g.symbol)
	if err != nil {
		if g.log != nil {
			g.log.LogError(err, map[string]interface{}{"op": "emergency_fetch_orders"})
		}
		return
	}
	for _, o := range orders {
		if err := g.gw.CancelOrder(g.symbol, o.ID); err != nil && g.log != nil {
			g.log.LogError(err, map[string]interface{}{"op": "emergency_cancel", "order_id": o.ID})
		}
	}
}

// notify 发送去重告警（同类风控在冷却窗口内只告警一次）
func (g *Gate) notify(v Violation) {
	if g.log != nil {
		g.log.LogRisk(string(v.Kind), map[string]interface{}{
			"symbol":   g.symbol,
			"message":  v.Message,
			"value":    v.Value,
			"limit":    v.Limit,
			"severity": int(v.Severity),
		})
	}
	if g.alerts != nil {
		g.alerts.SendRisk(string(v.Kind), v.Message, map[string]interface{}{
			"symbol": g.symbol,
			"value":  v.Value,
			"limit":  v.Limit,
		})
	}
}

// EmergencyStopped 是否已锁死
func (g *Gate) EmergencyStopped() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.emergency
}

// TriggerEmergency 手动触发紧急停止（kill switch）
func (g *Gate) TriggerEmergency(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emergency {
		return
	}
	g.latchEmergency([]Violation{{Kind: "manual", Severity: SeverityEmergency, Message: reason}})
}

// Snapshot 只读状态快照（dashboard用）
type Snapshot struct {
	State       string  `json:"state"`
	AllTimeHigh float64 `json:"all_time_high"`
	DayAnchor   float64 `json:"day_anchor"`
	AnchorDate  string  `json:"anchor_date"`
	Emergency   bool    `json:"emergency"`
	PausedUntil string  `json:"paused_until,omitempty"`
	Volatility  float64 `json:"volatility"`
}

// Snapshot 返回当前风控状态
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		State:       g.state.String(),
		AllTimeHigh: g.ath,
		DayAnchor:   g.dayAnchor,
		AnchorDate:  g.anchorDate,
		Emergency:   g.emergency,
	}
	if g.vol.IsReady() {
		s.Volatility = g.vol.StdDev()
	}
	if !g.pausedUntil.IsZero() && g.clock.Now().UTC().Before(g.pausedUntil) {
		s.PausedUntil = g.pausedUntil.Format(time.RFC3339)
	}
	return s
}

// Package trader 把网格引擎、风控闸门、S1仓位层与交易所网关
// 串成单交易对主循环。每tick严格顺序执行，策略状态单写者，
// 仪表盘通过快照读、通过intent队列写。
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/grid"
	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/overlay"
	"grid-trader-go/internal/risk"
	"grid-trader-go/internal/throttle"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
)

const (
	marketRetries      = 3
	marketRetryDelay   = 2 * time.Second
	errorBackoff       = 10 * time.Second
	volRefreshInterval = 5 * time.Minute
	basePricePeriod    = 24 * 7 // 1h K线，7天
	baseMaxDeviation   = 0.2
	reconcileLimit     = 50
	intentQueueCap     = 16
	stopTimeout        = 15 * time.Second
)

// Clock 可注入时钟
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Trader 单交易对控制循环
type Trader struct {
	cfg    config.AppConfig
	gw     gateway.Gateway
	book   *ledger.Ledger
	alerts *alert.Manager
	log    *logger.Logger
	clock  Clock

	intents chan Intent

	mu       sync.RWMutex
	settings config.Settings
	mkt      gateway.MarketInfo
	engine   *grid.Engine
	gate     *risk.Gate
	s1       *overlay.Controller
	limiter  *throttle.Gate

	lastPrice   float64
	balances    map[string]gateway.Balance
	totalAssets float64
	running     bool

	lastVolRefresh time.Time
	cachedVol      float64
	cachedVolOK    bool

	stopChan chan struct{}
	doneChan chan struct{}
}

// New 创建trader。组件在 Init 时构建。
func New(cfg config.AppConfig, gw gateway.Gateway, book *ledger.Ledger, alerts *alert.Manager, log *logger.Logger) (*Trader, error) {
	return NewWithClock(cfg, gw, book, alerts, log, realClock{})
}

// NewWithClock 注入时钟（测试用）
func NewWithClock(cfg config.AppConfig, gw gateway.Gateway, book *ledger.Ledger, alerts *alert.Manager, log *logger.Logger, clock Clock) (*Trader, error) {
	if gw == nil {
		return nil, errors.New("gateway is required")
	}
	if book == nil {
		return nil, errors.New("ledger is required")
	}
	settings, err := cfg.Resolve(cfg.Symbol)
	if err != nil {
		return nil, err
	}
	return &Trader{
		cfg:      cfg,
		gw:       gw,
		book:     book,
		alerts:   alerts,
		log:      log,
		clock:    clock,
		settings: settings,
		intents:  make(chan Intent, intentQueueCap),
	}, nil
}

// Init 启动准备：加载市场（限次重试）、解析基准价、
// 回补最近成交，然后构建策略组件。
func (t *Trader) Init() error {
	var err error
	for i := 0; i < marketRetries; i++ {
		if err = t.gw.LoadMarkets(); err == nil {
			break
		}
		if t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "load_markets", "attempt": i + 1})
		}
		if i < marketRetries-1 {
			time.Sleep(marketRetryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	mkt, err := t.gw.Market(t.settings.Symbol)
	if err != nil {
		return fmt.Errorf("market %s: %w", t.settings.Symbol, err)
	}
	tk, err := t.gw.FetchTicker(t.settings.Symbol)
	if err != nil {
		return fmt.Errorf("initial ticker: %w", err)
	}

	base := t.resolveBasePrice(t.settings, tk.Last)
	t.reconcileTrades(t.settings, mkt)

	t.mu.Lock()
	t.mkt = mkt
	t.buildComponents(t.settings, mkt, base)
	t.lastPrice = tk.Last
	t.mu.Unlock()

	if err := t.refreshAccount(tk.Last); err != nil {
		return fmt.Errorf("initial balance: %w", err)
	}
	if t.log != nil {
		t.log.LogSignal("trader_initialized", map[string]interface{}{
			"symbol":     t.settings.Symbol,
			"base_price": base,
			"grid_size":  t.settings.InitialGrid,
		})
	}
	return nil
}

// buildComponents 按settings重建策略组件。调用方持有t.mu。
func (t *Trader) buildComponents(s config.Settings, mkt gateway.MarketInfo, basePrice float64) {
	t.settings = s
	t.engine = grid.NewEngine(s, mkt, basePrice)
	t.limiter = throttle.New(s.ThrottleLimit, time.Duration(s.ThrottleWindowSeconds)*time.Second)
	t.gate = risk.NewGate(s.Symbol, riskConfig(s), t.alerts, t.log, t.gw)
	t.s1 = overlay.New(s, mkt, t.gw, t.limiter, t.book, t.log)
}

func riskConfig(s config.Settings) risk.Config {
	return risk.Config{
		MinPositionRatio:  s.MinPositionRatio,
		MaxPositionRatio:  s.MaxPositionRatio,
		MaxDrawdown:       s.MaxDrawdown,
		DailyLossLimit:    s.DailyLossLimit,
		VolatilityWindow:  s.VolatilityWindow,
		VolatilityWarn:    s.VolatilityWarn,
		VolatilityExtreme: s.VolatilityExtreme,
		PauseDuration:     time.Duration(s.RiskPauseSeconds) * time.Second,
	}
}

// resolveBasePrice 选定网格基准价：配置值优先（需通过偏离校验），
// 否则用7天小时K线智能估算，估算失败或偏离过大则退回现价。
func (t *Trader) resolveBasePrice(s config.Settings, current float64) float64 {
	if s.InitialBasePrice > 0 && market.ValidateBasePrice(s.InitialBasePrice, current, baseMaxDeviation) {
		return s.InitialBasePrice
	}
	ks, err := t.gw.FetchOHLCV(s.Symbol, "1h", basePricePeriod)
	if err == nil {
		if base, berr := market.SmartBasePrice(ks, basePricePeriod); berr == nil &&
			market.ValidateBasePrice(base, current, baseMaxDeviation) {
			return base
		}
	} else if t.log != nil {
		t.log.LogError(err, map[string]interface{}{"op": "base_price_klines"})
	}
	if t.log != nil {
		t.log.LogSignal("base_price_fallback", map[string]interface{}{"price": current})
	}
	return current
}

// reconcileTrades 把交易所侧最近成交按订单聚合后补入台账。
// 台账按order_id去重，重复回补无副作用。
func (t *Trader) reconcileTrades(s config.Settings, mkt gateway.MarketInfo) {
	fills, err := t.gw.FetchMyTrades(s.Symbol, reconcileLimit)
	if err != nil {
		if t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "reconcile_trades"})
		}
		return
	}
	type agg struct {
		side      string
		amount    float64
		cost      float64
		fee       float64
		timestamp int64
	}
	orders := make(map[string]*agg)
	for _, f := range fills {
		a, ok := orders[f.OrderID]
		if !ok {
			a = &agg{side: f.Side}
			orders[f.OrderID] = a
		}
		a.amount += f.Amount
		a.cost += f.Cost
		a.fee += f.Fee
		if f.Timestamp > a.timestamp {
			a.timestamp = f.Timestamp
		}
	}
	recovered := 0
	for id, a := range orders {
		if a.amount <= 0 || a.cost < mkt.MinNotional {
			continue
		}
		if t.book.Has(id) {
			continue
		}
		_, err := t.book.Add(ledger.Record{
			OrderID:   id,
			Symbol:    s.Symbol,
			Side:      a.side,
			Price:     a.cost / a.amount,
			Amount:    a.amount,
			Cost:      a.cost,
			Fee:       a.fee,
			Source:    "recovered",
			Timestamp: a.timestamp,
		})
		if err != nil {
			if t.log != nil && !errors.Is(err, ledger.ErrDuplicate) {
				t.log.LogError(err, map[string]interface{}{"op": "reconcile_add", "order_id": id})
			}
			continue
		}
		recovered++
	}
	if recovered > 0 && t.log != nil {
		t.log.LogSignal("trades_recovered", map[string]interface{}{"count": recovered})
	}
}

// Queue 入队一条指令。队列满时丢弃并返回false。
func (t *Trader) Queue(in Intent) bool {
	select {
	case t.intents <- in:
		return true
	default:
		if t.log != nil {
			t.log.LogSignal("intent_dropped", map[string]interface{}{"kind": in.Kind.String()})
		}
		return false
	}
}

// Run 主循环。tick出错只记录并退避，不会终止进程；
// 退出由context或Stop触发，一个周期内完成收尾。
func (t *Trader) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("trader already running")
	}
	if t.engine == nil {
		t.mu.Unlock()
		return errors.New("trader not initialized")
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.doneChan = make(chan struct{})
	stopChan, doneChan := t.stopChan, t.doneChan
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		close(doneChan)
	}()

	if t.alerts != nil {
		t.alerts.SendInfo("trader started", map[string]interface{}{"symbol": t.settings.Symbol})
	}

	for {
		interval, err := t.tick()
		if err != nil {
			metrics.TickErrors.Inc()
			if t.log != nil {
				t.log.LogError(err, map[string]interface{}{"op": "tick"})
			}
			interval = errorBackoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-stopChan:
			return nil
		case <-time.After(interval):
		}
	}
}

// Stop 请求退出并等待主循环结束
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running || t.stopChan == nil {
		t.mu.Unlock()
		return
	}
	stopChan, doneChan := t.stopChan, t.doneChan
	t.mu.Unlock()

	select {
	case <-stopChan:
	default:
		close(stopChan)
	}
	select {
	case <-doneChan:
	case <-time.After(stopTimeout):
		if t.log != nil {
			t.log.LogSignal("stop_timeout", nil)
		}
	}
	if t.alerts != nil {
		t.alerts.SendInfo("trader stopped", map[string]interface{}{"symbol": t.settings.Symbol})
	}
}

// tick 执行一个完整周期，返回下一次tick前的休眠时长。
// 顺序固定：行情 → intent → 网格信号 → 风控 → 下单/调格/S1 → 账户刷新。
func (t *Trader) tick() (time.Duration, error) {
	metrics.Ticks.Inc()

	tk, err := t.gw.FetchTicker(t.settings.Symbol)
	if err != nil {
		return 0, fmt.Errorf("fetch ticker: %w", err)
	}
	price := tk.Last
	if price <= 0 {
		return 0, fmt.Errorf("invalid ticker price %v", price)
	}

	t.drainIntents(price)

	balances, err := t.gw.FetchBalance()
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	baseValue := balances[t.settings.Base].Total * price
	totalAssets := balances[t.settings.Quote].Total + baseValue

	sig := t.engine.Evaluate(price)
	vol, volOK := t.refreshVolatility()

	res := t.gate.Check(price, baseValue, totalAssets)
	metrics.SetRiskState(float64(res.State))

	if res.Allowed {
		if sig != grid.SignalNone {
			t.executeSignal(sig, price, balances)
		}
		if volOK && t.engine.Resize(vol) {
			if t.log != nil {
				t.log.LogSignal("grid_resized", map[string]interface{}{
					"grid_size":  t.engine.GridSize(),
					"volatility": vol,
				})
			}
		}
		if _, err := t.s1.Tick(price, balances, totalAssets); err != nil && t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "s1_tick"})
		}
	} else if sig != grid.SignalNone {
		metrics.IncrementOrderRejected("risk")
		if t.log != nil {
			t.log.LogSignal("signal_vetoed", map[string]interface{}{
				"signal": sig.String(),
				"state":  res.State.String(),
			})
		}
	}

	t.mu.Lock()
	t.lastPrice = price
	t.balances = balances
	t.totalAssets = totalAssets
	t.mu.Unlock()

	rs := t.gate.Snapshot()
	drawdown := 0.0
	if rs.AllTimeHigh > 0 {
		drawdown = totalAssets/rs.AllTimeHigh - 1
	}
	positionRatio := 0.0
	if totalAssets > 0 {
		positionRatio = baseValue / totalAssets
	}
	metrics.UpdateMarketMetrics(price, t.engine.BasePrice(), t.engine.GridSize(), vol)
	metrics.UpdateAccountMetrics(totalAssets, positionRatio, drawdown)

	return t.engine.Interval(vol, volOK), nil
}

// executeSignal 网格信号走完整下单流程：占用引擎阶段、算量、
// 限速闸门、市价单、记账、以成交价重锚。任何一步失败都放弃本信号。
func (t *Trader) executeSignal(sig grid.Signal, price float64, balances map[string]gateway.Balance) {
	if !t.engine.TryBegin() {
		return
	}
	amount, ok := t.engine.SizeOrder(sig, price, balances)
	if !ok {
		t.engine.Abort()
		metrics.IncrementOrderRejected("size")
		return
	}
	if !t.limiter.Allow() {
		t.engine.Abort()
		metrics.IncrementOrderRejected("throttle")
		if t.log != nil {
			t.log.LogSignal("grid_throttled", map[string]interface{}{"signal": sig.String()})
		}
		return
	}

	t.engine.MarkSubmitting()
	order, err := t.gw.CreateMarketOrder(t.settings.Symbol, sig.String(), amount)
	if err != nil {
		t.engine.Abort()
		metrics.IncrementOrderRejected("gateway")
		if t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "grid_order", "signal": sig.String()})
		}
		if t.alerts != nil {
			t.alerts.SendError("grid order failed", map[string]interface{}{
				"symbol": t.settings.Symbol,
				"side":   sig.String(),
				"error":  err.Error(),
			})
		}
		return
	}
	t.engine.MarkSettling()

	fillPrice := order.Price
	if fillPrice <= 0 {
		fillPrice = price
	}
	filled := order.Filled
	if filled <= 0 {
		filled = amount
	}
	rec, err := t.book.Add(ledger.Record{
		OrderID:   order.ID,
		Symbol:    t.settings.Symbol,
		Side:      sig.String(),
		Price:     fillPrice,
		Amount:    filled,
		Cost:      order.Cost,
		Source:    "grid",
		Timestamp: t.clock.Now().UnixMilli(),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicate) && t.log != nil {
		t.log.LogError(err, map[string]interface{}{"op": "grid_ledger_add", "order_id": order.ID})
	}

	t.engine.Settle(fillPrice)
	metrics.IncrementOrderSubmitted(sig.String(), "grid")

	fields := map[string]interface{}{
		"symbol": t.settings.Symbol,
		"side":   sig.String(),
		"price":  fillPrice,
		"amount": filled,
		"profit": rec.Profit,
	}
	if t.log != nil {
		t.log.LogOrder("grid_fill", order.ID, fields)
	}
	if t.alerts != nil {
		t.alerts.SendInfo("grid order filled", fields)
	}
}

// refreshVolatility 以小时K线算已实现波动率，最多每5分钟取一次，
// 其间复用缓存值。取数失败沿用上次结果。
func (t *Trader) refreshVolatility() (float64, bool) {
	now := t.clock.Now()
	if !t.lastVolRefresh.IsZero() && now.Sub(t.lastVolRefresh) < volRefreshInterval {
		return t.cachedVol, t.cachedVolOK
	}
	ks, err := t.gw.FetchOHLCV(t.settings.Symbol, "1h", t.settings.VolatilityWindow+1)
	if err != nil {
		if t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "volatility_klines"})
		}
		return t.cachedVol, t.cachedVolOK
	}
	t.lastVolRefresh = now
	t.cachedVol, t.cachedVolOK = market.RealizedVol(ks)
	return t.cachedVol, t.cachedVolOK
}

// refreshAccount 拉取余额并更新快照状态
func (t *Trader) refreshAccount(price float64) error {
	balances, err := t.gw.FetchBalance()
	if err != nil {
		return err
	}
	baseValue := balances[t.settings.Base].Total * price
	t.mu.Lock()
	t.balances = balances
	t.totalAssets = balances[t.settings.Quote].Total + baseValue
	t.mu.Unlock()
	return nil
}

// drainIntents 消费当前积压的全部指令。只在tick边界调用。
func (t *Trader) drainIntents(price float64) {
	for {
		select {
		case in := <-t.intents:
			t.applyIntent(in, price)
		default:
			return
		}
	}
}

func (t *Trader) applyIntent(in Intent, price float64) {
	var err error
	switch in.Kind {
	case IntentUpdateParams:
		err = t.applyParams(in.Params)
	case IntentSwitchSymbol:
		err = t.switchSymbol(in.Symbol)
	case IntentReinitialize:
		err = t.reinitialize(price)
	case IntentReloadConfig:
		err = t.reloadConfig(in.Config)
	default:
		err = fmt.Errorf("unknown intent kind %d", in.Kind)
	}
	if err != nil {
		if t.log != nil {
			t.log.LogError(err, map[string]interface{}{"op": "apply_intent", "kind": in.Kind.String()})
		}
		if t.alerts != nil {
			t.alerts.SendWarning("intent rejected", map[string]interface{}{
				"kind":  in.Kind.String(),
				"error": err.Error(),
			})
		}
		return
	}
	if t.log != nil {
		t.log.LogSignal("intent_applied", map[string]interface{}{"kind": in.Kind.String()})
	}
}

// applyParams 热更新交易参数。网格以当前基准价重建（极值归零），
// 风控闸门只换阈值，ATH与当日锚点保留。
func (t *Trader) applyParams(p *config.TradingParams) error {
	if p == nil {
		return errors.New("nil params")
	}
	s := t.settings
	s.TradingParams = *p
	if err := ValidateParams(s.TradingParams); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	base := t.engine.BasePrice()
	if s.ThrottleLimit != t.settings.ThrottleLimit || s.ThrottleWindowSeconds != t.settings.ThrottleWindowSeconds {
		t.limiter = throttle.New(s.ThrottleLimit, time.Duration(s.ThrottleWindowSeconds)*time.Second)
	}
	t.settings = s
	t.engine = grid.NewEngine(s, t.mkt, base)
	t.gate.SetConfig(riskConfig(s))
	t.s1 = overlay.New(s, t.mkt, t.gw, t.limiter, t.book, t.log)
	return nil
}

// switchSymbol 切换交易对：重解析配置、重算基准价、整套组件重建。
// 台账共用同一数据目录，记录自带symbol字段。
func (t *Trader) switchSymbol(symbol string) error {
	if symbol == t.settings.Symbol {
		return nil
	}
	s, err := t.cfg.Resolve(symbol)
	if err != nil {
		return err
	}
	mkt, err := t.gw.Market(symbol)
	if err != nil {
		return err
	}
	tk, err := t.gw.FetchTicker(symbol)
	if err != nil {
		return err
	}
	base := t.resolveBasePrice(s, tk.Last)
	t.reconcileTrades(s, mkt)

	t.mu.Lock()
	t.mkt = mkt
	t.buildComponents(s, mkt, base)
	t.lastPrice = tk.Last
	t.mu.Unlock()
	return nil
}

// reinitialize 忽略配置基准价，按当前行情重算并重建网格
func (t *Trader) reinitialize(price float64) error {
	s := t.settings
	s.InitialBasePrice = 0
	base := t.resolveBasePrice(s, price)

	t.mu.Lock()
	t.engine = grid.NewEngine(t.settings, t.mkt, base)
	t.mu.Unlock()
	return nil
}

// reloadConfig 配置文件重载：当前交易对重新解析，参数路径同applyParams
func (t *Trader) reloadConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	s, err := cfg.Resolve(t.settings.Symbol)
	if err != nil {
		return err
	}
	t.cfg = *cfg
	return t.applyParams(&s.TradingParams)
}

// ValidateParams 拒绝明显不合法的参数组合。仪表盘入队前
// 与主循环应用时各检查一次。
func ValidateParams(p config.TradingParams) error {
	if p.InitialGrid <= 0 || p.InitialGrid > 50 {
		return fmt.Errorf("initial grid %v out of range", p.InitialGrid)
	}
	if p.MinGridSize <= 0 || p.MaxGridSize < p.MinGridSize {
		return fmt.Errorf("grid size bounds %v..%v invalid", p.MinGridSize, p.MaxGridSize)
	}
	if p.MaxPositionPercent <= 0 || p.MaxPositionPercent > 1 {
		return fmt.Errorf("max position percent %v out of range", p.MaxPositionPercent)
	}
	if p.MaxPositionRatio <= p.MinPositionRatio {
		return fmt.Errorf("position ratio bounds %v..%v invalid", p.MinPositionRatio, p.MaxPositionRatio)
	}
	return nil
}

// Status 仪表盘状态快照
type Status struct {
	Symbol      string                     `json:"symbol"`
	Mode        string                     `json:"mode"`
	Running     bool                       `json:"running"`
	Price       float64                    `json:"price"`
	TotalAssets float64                    `json:"total_assets"`
	Balances    map[string]gateway.Balance `json:"balances"`
	Grid        grid.Snapshot              `json:"grid"`
	Risk        risk.Snapshot              `json:"risk"`
	S1          overlay.Snapshot           `json:"s1"`
	Recent      []ledger.Record            `json:"recent_trades"`
	Stats       ledger.Stats               `json:"statistics"`
}

// Status 聚合各组件快照。Init之前调用返回零值。
func (t *Trader) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{
		Symbol:      t.settings.Symbol,
		Running:     t.running,
		Price:       t.lastPrice,
		TotalAssets: t.totalAssets,
	}
	if t.cfg.SimulationMode() {
		st.Mode = "simulation"
	} else {
		st.Mode = "live"
	}
	if t.balances != nil {
		st.Balances = make(map[string]gateway.Balance, len(t.balances))
		for k, v := range t.balances {
			st.Balances[k] = v
		}
	}
	if t.engine != nil {
		st.Grid = t.engine.Snapshot()
	}
	if t.gate != nil {
		st.Risk = t.gate.Snapshot()
	}
	if t.s1 != nil {
		st.S1 = t.s1.Snapshot(t.lastPrice)
	}
	if t.book != nil {
		st.Recent = t.book.Recent()
		st.Stats = t.book.Statistics()
	}
	return st
}

// Params 当前生效的交易参数副本（仪表盘展示用）
func (t *Trader) Params() config.TradingParams {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings.TradingParams
}

// Symbol 当前交易对
func (t *Trader) Symbol() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings.Symbol
}

package grid

import (
	"math"
	"sync"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
)

// resizeHysteresis 网格调整的最小变化量（百分点）
const resizeHysteresis = 0.5

// Engine 单交易对的网格引擎。只做决策，不碰网络；
// 下单与成交由控制循环驱动，经阶段状态机互斥。
type Engine struct {
	mu       sync.RWMutex
	settings config.Settings
	market   gateway.MarketInfo

	basePrice float64
	gridSize  float64 // 百分比
	highest   float64 // 本锚点周期内的最高价
	lowest    float64
	phase     Phase
	lastPrice float64
}

// NewEngine 创建引擎。basePrice为初始基准价。
func NewEngine(settings config.Settings, mkt gateway.MarketInfo, basePrice float64) *Engine {
	return &Engine{
		settings:  settings,
		market:    mkt,
		basePrice: basePrice,
		gridSize:  settings.InitialGrid,
	}
}

// Bands 当前上下轨
func (e *Engine) Bands() (upper, lower float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bands()
}

func (e *Engine) bands() (upper, lower float64) {
	upper = e.basePrice * (1 + e.gridSize/100)
	lower = e.basePrice * (1 - e.gridSize/100)
	return upper, lower
}

// Evaluate 更新极值并判断突破信号。
// 买：price ≤ 下轨·(1−flip)；卖：price ≥ 上轨·(1+flip)。
func (e *Engine) Evaluate(price float64) Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastPrice = price
	if e.highest == 0 || price > e.highest {
		e.highest = price
	}
	if e.lowest == 0 || price < e.lowest {
		e.lowest = price
	}

	flip := e.settings.FlipThreshold()
	upper, lower := e.bands()
	switch {
	case price <= lower*(1-flip):
		return SignalBuy
	case price >= upper*(1+flip):
		return SignalSell
	default:
		return SignalNone
	}
}

// TryBegin 尝试进入Evaluating阶段；非Idle时返回false，信号被丢弃
func (e *Engine) TryBegin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return false
	}
	e.phase = PhaseEvaluating
	return true
}

// MarkSubmitting 进入下单阶段
func (e *Engine) MarkSubmitting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseEvaluating {
		e.phase = PhaseSubmitting
	}
}

// MarkSettling 订单已提交，等待落账
func (e *Engine) MarkSettling() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseSubmitting {
		e.phase = PhaseSettling
	}
}

// Settle 成交落账：基准价重锚到成交价，极值复位，回到Idle
func (e *Engine) Settle(fillPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fillPrice > 0 {
		e.basePrice = fillPrice
	}
	e.highest = 0
	e.lowest = 0
	e.phase = PhaseIdle
}

// Abort 本轮失败或无操作，回到Idle，不动基准价
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseIdle
}

// Phase 当前阶段
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// SizeOrder 计算下单数量：可用余额×比例上限，按步进向下取整。
// 返回false表示名义金额不足，不下单。
func (e *Engine) SizeOrder(sig Signal, price float64, balances map[string]gateway.Balance) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if price <= 0 {
		return 0, false
	}
	var amount float64
	switch sig {
	case SignalBuy:
		free := balances[e.market.Quote].Free
		amount = free * e.settings.MaxPositionPercent / price
	case SignalSell:
		free := balances[e.market.Base].Free
		amount = free * e.settings.MaxPositionPercent
	default:
		return 0, false
	}

	amount = floorToStep(amount, e.market.StepSize)
	if amount <= 0 || amount < e.market.MinQty {
		return 0, false
	}
	notional := amount * price
	if notional < e.settings.MinTradeAmount || notional < e.market.MinNotional {
		return 0, false
	}
	return amount, true
}

func floorToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	// 浮点修正后再向下取整
	return math.Floor(amount/step+1e-9) * step
}

// Resize 按波动率查表调整网格大小；变化不超过0.5个百分点时维持现状
func (e *Engine) Resize(volatility float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 滞回带比较用查表原值,钳位后的目标可能离当前值不到0.5
	target := e.settings.GridTable.Lookup(volatility)
	if math.Abs(target-e.gridSize) <= resizeHysteresis {
		return false
	}
	if target < e.settings.MinGridSize {
		target = e.settings.MinGridSize
	}
	if target > e.settings.MaxGridSize {
		target = e.settings.MaxGridSize
	}
	if target == e.gridSize {
		return false
	}
	e.gridSize = target
	return true
}

// Interval 按波动率查表得到下次tick间隔；volOK为false时用默认间隔
func (e *Engine) Interval(volatility float64, volOK bool) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	minutes := e.settings.DefaultIntervalMinutes
	if volOK {
		minutes = e.settings.IntervalTable.Lookup(volatility)
	}
	return time.Duration(minutes * float64(time.Minute))
}

// GridSize 当前网格大小（百分比）
func (e *Engine) GridSize() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gridSize
}

// BasePrice 当前基准价
func (e *Engine) BasePrice() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.basePrice
}

// Snapshot 只读快照（dashboard用）
type Snapshot struct {
	Symbol    string  `json:"symbol"`
	BasePrice float64 `json:"base_price"`
	GridSize  float64 `json:"grid_size"`
	Upper     float64 `json:"upper_band"`
	Lower     float64 `json:"lower_band"`
	Highest   float64 `json:"highest"`
	Lowest    float64 `json:"lowest"`
	Phase     string  `json:"phase"`
	LastPrice float64 `json:"last_price"`
}

// Snapshot 返回当前网格状态
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	upper, lower := e.bands()
	return Snapshot{
		Symbol:    e.settings.Symbol,
		BasePrice: e.basePrice,
		GridSize:  e.gridSize,
		Upper:     upper,
		Lower:     lower,
		Highest:   e.highest,
		Lowest:    e.lowest,
		Phase:     e.phase.String(),
		LastPrice: e.lastPrice,
	}
}

// Package overlay 实现S1仓位回归层：独立于网格的慢速仓位调节。
package overlay

import (
	"fmt"
	"sync"
	"time"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/ledger"
	"grid-trader-go/internal/throttle"
	"grid-trader-go/market"
)

// 52周期日线区间最多每23.9小时刷新一次
const refreshInterval = 23*time.Hour + 54*time.Minute

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Adjustment 一次已执行的仓位调整
type Adjustment struct {
	Side          string
	Amount        float64
	Price         float64
	PricePosition float64
	RatioBefore   float64
}

// Controller 维护52日高低区间并向目标仓位回归。
// 从不修改网格基准价。
type Controller struct {
	settings config.Settings
	mkt      gateway.MarketInfo
	gw       gateway.Gateway
	gate     *throttle.Gate
	book     *ledger.Ledger
	log      *logger.Logger
	clock    Clock

	mu          sync.Mutex
	high        float64
	low         float64
	lastRefresh time.Time
	lastCheck   time.Time
	lastAdjust  time.Time
}

// New 创建S1控制器
func New(settings config.Settings, mkt gateway.MarketInfo, gw gateway.Gateway, gate *throttle.Gate, book *ledger.Ledger, log *logger.Logger) *Controller {
	return NewWithClock(settings, mkt, gw, gate, book, log, realClock{})
}

// NewWithClock 注入时钟（测试用）
func NewWithClock(settings config.Settings, mkt gateway.MarketInfo, gw gateway.Gateway, gate *throttle.Gate, book *ledger.Ledger, log *logger.Logger, clock Clock) *Controller {
	return &Controller{
		settings: settings,
		mkt:      mkt,
		gw:       gw,
		gate:     gate,
		book:     book,
		log:      log,
		clock:    clock,
	}
}

// refreshRange 用完整日线重建52周期高低点；未到刷新周期则沿用现值
func (c *Controller) refreshRange() error {
	now := c.clock.Now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < refreshInterval {
		return nil
	}

	lookback := c.settings.S1.Lookback
	ks, err := c.gw.FetchOHLCV(c.settings.Symbol, "1d", lookback+1)
	if err != nil {
		return fmt.Errorf("fetch daily candles: %w", err)
	}
	completed := market.Completed(ks)
	if len(completed) > lookback {
		completed = completed[len(completed)-lookback:]
	}
	high, low, ok := market.HighLow(completed)
	if !ok {
		return fmt.Errorf("no completed daily candles")
	}
	c.high = high
	c.low = low
	c.lastRefresh = now
	return nil
}

// PricePosition 当前价在52日区间内的位置；区间缺失、退化
// 或位置明显越界（数据陈旧）时返回false，仅供展示不触发动作。
func (c *Controller) PricePosition(price float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pricePosition(price)
}

func (c *Controller) pricePosition(price float64) (float64, bool) {
	if c.high <= c.low {
		return 0, false
	}
	pos := (price - c.low) / (c.high - c.low)
	if pos < -0.5 || pos > 1.5 {
		return pos, false
	}
	return pos, true
}

// Tick 每个主循环tick调用一次；内部用5分钟复查间隔和
// 30分钟调整冷却控制节奏。返回本tick执行的调整（可能为nil）。
func (c *Controller) Tick(price float64, balances map[string]gateway.Balance, totalAssets float64) (*Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	checkEvery := time.Duration(c.settings.S1.CheckIntervalSeconds) * time.Second
	cooldown := time.Duration(c.settings.S1.CooldownSeconds) * time.Second

	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < checkEvery {
		return nil, nil
	}
	c.lastCheck = now

	if !c.lastAdjust.IsZero() && now.Sub(c.lastAdjust) < cooldown {
		return nil, nil
	}
	if err := c.refreshRange(); err != nil {
		return nil, err
	}
	if totalAssets <= 0 || price <= 0 {
		return nil, nil
	}

	pos, ok := c.pricePosition(price)
	if !ok {
		return nil, nil
	}

	// 持仓占比按总持仓算,与风控口径一致
	ratio := balances[c.mkt.Base].Total * price / totalAssets
	s1 := c.settings.S1

	switch {
	case pos >= s1.HighTrigger && ratio > s1.SellTarget:
		return c.adjust("sell", (ratio-s1.SellTarget)*totalAssets, price, pos, ratio, balances)
	case pos <= s1.LowTrigger && ratio < s1.BuyTarget:
		return c.adjust("buy", (s1.BuyTarget-ratio)*totalAssets, price, pos, ratio, balances)
	}
	return nil, nil
}

// adjust 执行一次向目标仓位的调整
func (c *Controller) adjust(side string, notional, price, pos, ratio float64, balances map[string]gateway.Balance) (*Adjustment, error) {
	if side == "buy" {
		free := balances[c.mkt.Quote].Free
		if free < notional {
			// 先尝试从理财账户赎回差额，失败则退回可用余额
			if err := c.gw.TransferFromEarn(c.mkt.Quote, notional-free); err != nil {
				notional = free
				if notional <= 0 {
					return nil, nil
				}
			}
		}
	} else {
		maxNotional := balances[c.mkt.Base].Free * price
		if notional > maxNotional {
			notional = maxNotional
		}
	}

	amount := floorToStep(notional/price, c.mkt.StepSize)
	if amount < c.mkt.MinQty || amount*price < c.mkt.MinNotional {
		return nil, nil
	}

	if !c.gate.Allow() {
		if c.log != nil {
			c.log.LogSignal("s1_throttled", map[string]interface{}{"side": side})
		}
		return nil, nil
	}

	order, err := c.gw.CreateMarketOrder(c.settings.Symbol, side, amount)
	if err != nil {
		return nil, fmt.Errorf("s1 %s order: %w", side, err)
	}
	c.lastAdjust = c.clock.Now()

	if c.book != nil {
		_, err := c.book.Add(ledger.Record{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Price:     order.Price,
			Amount:    order.Filled,
			Cost:      order.Cost,
			Source:    "s1",
			Timestamp: c.clock.Now().UnixMilli(),
		})
		if err != nil && c.log != nil {
			c.log.LogError(err, map[string]interface{}{"op": "s1_ledger_add"})
		}
	}
	if c.log != nil {
		c.log.LogTrade("s1_adjustment", map[string]interface{}{
			"side":           side,
			"amount":         order.Filled,
			"price":          order.Price,
			"price_position": pos,
			"ratio_before":   ratio,
		})
	}
	return &Adjustment{
		Side:          side,
		Amount:        order.Filled,
		Price:         order.Price,
		PricePosition: pos,
		RatioBefore:   ratio,
	}, nil
}

func floorToStep(amount, step float64) float64 {
	if step <= 0 {
		return amount
	}
	steps := int64(amount/step + 1e-9)
	return float64(steps) * step
}

// Snapshot 只读状态（dashboard用）
type Snapshot struct {
	High          float64 `json:"high_52d"`
	Low           float64 `json:"low_52d"`
	LastRefresh   string  `json:"last_refresh,omitempty"`
	LastAdjust    string  `json:"last_adjust,omitempty"`
	PricePosition float64 `json:"price_position"`
	PositionValid bool    `json:"position_valid"`
}

// Snapshot 返回当前S1状态
func (c *Controller) Snapshot(price float64) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.pricePosition(price)
	s := Snapshot{
		High:          c.high,
		Low:           c.low,
		PricePosition: pos,
		PositionValid: ok,
	}
	if !c.lastRefresh.IsZero() {
		s.LastRefresh = c.lastRefresh.UTC().Format(time.RFC3339)
	}
	if !c.lastAdjust.IsZero() {
		s.LastAdjust = c.lastAdjust.UTC().Format(time.RFC3339)
	}
	return s
}

// Package metrics provides Prometheus metrics for the grid trader
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CurrentPrice 最新成交价
	CurrentPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_price",
		Help: "Latest traded price of the configured pair",
	})

	// BasePrice 当前网格基准价
	BasePrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_base_price",
		Help: "Current grid anchor price",
	})

	// GridSize 当前网格大小（百分比）
	GridSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_grid_size_percent",
		Help: "Current grid size in percent",
	})

	// PositionRatio 仓位占总资产比例
	PositionRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_position_ratio",
		Help: "Base asset value over total equity",
	})

	// TotalEquity 总资产（计价货币）
	TotalEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_total_equity",
		Help: "Total account equity in quote currency",
	})

	// Drawdown 距历史最高点回撤（负数）
	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_drawdown",
		Help: "Drawdown from all-time-high equity, negative fraction",
	})

	// RiskState 风控状态（0=normal 1=paused 2=emergency）
	RiskState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_risk_state",
		Help: "Risk gate state: 0 normal, 1 paused, 2 emergency stop",
	})

	// Volatility 已实现波动率
	Volatility = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grid_trader_volatility",
		Help: "Realized volatility over the configured window",
	})

	// OrdersSubmitted 按方向和来源统计的下单数
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_orders_submitted_total",
		Help: "Orders submitted, by side and source",
	}, []string{"side", "source"})

	// OrdersRejected 被风控/限流拒绝的下单意图数
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grid_trader_orders_rejected_total",
		Help: "Order intents rejected before submission, by reason",
	}, []string{"reason"})

	// Ticks 主循环tick计数
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_trader_ticks_total",
		Help: "Main loop iterations",
	})

	// TickErrors 主循环错误计数
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grid_trader_tick_errors_total",
		Help: "Main loop iterations that ended in error",
	})
)

// UpdateMarketMetrics 更新行情相关指标
func UpdateMarketMetrics(price, basePrice, gridSize, volatility float64) {
	CurrentPrice.Set(price)
	BasePrice.Set(basePrice)
	GridSize.Set(gridSize)
	Volatility.Set(volatility)
}

// UpdateAccountMetrics 更新账户相关指标
func UpdateAccountMetrics(equity, positionRatio, drawdown float64) {
	TotalEquity.Set(equity)
	PositionRatio.Set(positionRatio)
	Drawdown.Set(drawdown)
}

// SetRiskState 更新风控状态指标
func SetRiskState(state float64) {
	RiskState.Set(state)
}

// IncrementOrderSubmitted 记录一次下单
func IncrementOrderSubmitted(side, source string) {
	OrdersSubmitted.WithLabelValues(side, source).Inc()
}

// IncrementOrderRejected 记录一次下单被拒
func IncrementOrderRejected(reason string) {
	OrdersRejected.WithLabelValues(reason).Inc()
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}

// Package grid 实现突破网格策略引擎。
package grid

// Phase 引擎所处阶段。信号评估与订单执行互斥：
// 非Idle阶段到来的信号直接丢弃，不排队。
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEvaluating
	PhaseSubmitting
	PhaseSettling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSettling:
		return "settling"
	default:
		return "unknown"
	}
}

// Signal 网格信号
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// Package risk 实现下单前的风控闸门。
package risk

import "time"

// State 风控状态
type State int

const (
	StateNormal State = iota
	StatePaused
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StatePaused:
		return "paused"
	case StateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Kind 风控检查类别，用于告警去重
type Kind string

const (
	KindPositionLow  Kind = "position_low"
	KindPositionHigh Kind = "position_high"
	KindDrawdown     Kind = "drawdown"
	KindDailyLoss    Kind = "daily_loss"
	KindVolatility   Kind = "volatility"
)

// Severity 违规严重级别
type Severity int

const (
	// SeverityWarn 仅告警，不否决
	SeverityWarn Severity = iota + 1
	// SeverityPause 否决本tick并暂停一段时间
	SeverityPause
	// SeverityEmergency 否决并锁死紧急停止
	SeverityEmergency
)

// Violation 一次风控违规
type Violation struct {
	Kind     Kind
	Severity Severity
	Message  string
	Value    float64
	Limit    float64
}

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

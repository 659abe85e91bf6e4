// Package ledger 维护成交台账：去重、持久化、归档与统计。
package ledger

import (
	"errors"
	"fmt"
)

// 台账错误
var (
	ErrDuplicate     = errors.New("duplicate order id")
	ErrInvalidRecord = errors.New("invalid trade record")
)

// Record 一笔已完成的成交
type Record struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"` // buy / sell
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Cost      float64 `json:"cost"`      // 成交金额（计价货币）
	Fee       float64 `json:"fee"`       // 计价货币计的手续费
	Profit    float64 `json:"profit"`    // 卖单按FIFO配对后的利润，买单为0
	Source    string  `json:"source"`    // grid / s1 / manual
	Timestamp int64   `json:"timestamp"` // 毫秒
}

// Validate 拒绝畸形记录
func (r Record) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidRecord)
	}
	if r.Side != "buy" && r.Side != "sell" {
		return fmt.Errorf("%w: side %q", ErrInvalidRecord, r.Side)
	}
	if r.Price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidRecord, r.Price)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount %v", ErrInvalidRecord, r.Amount)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp %d", ErrInvalidRecord, r.Timestamp)
	}
	return nil
}

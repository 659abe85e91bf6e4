// Package throttle 提供滑动窗口下单限流。
package throttle

import (
	"sync"
	"time"
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Gate 滑动窗口限流：窗口内最多limit次提交。
// 与REST限速不同，这里限制的是策略的下单频率。
type Gate struct {
	limit  int
	window time.Duration
	clock  Clock

	mu     sync.Mutex
	stamps []time.Time
}

// New 创建限流门，limit次/window。
func New(limit int, window time.Duration) *Gate {
	return NewWithClock(limit, window, realClock{})
}

// NewWithClock 注入时钟（测试用）。
func NewWithClock(limit int, window time.Duration, clock Clock) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Gate{
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// Allow 先剔除窗口外的记录，再判断是否放行。
// 放行时记录本次提交；拒绝不记录。
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.prune(now)

	if len(g.stamps) >= g.limit {
		return false
	}
	g.stamps = append(g.stamps, now)
	return true
}

// Pending 当前窗口内的提交数。
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.clock.Now())
	return len(g.stamps)
}

// Reset 清空窗口。
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stamps = g.stamps[:0]
}

func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.stamps) && g.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}

package throttle

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGate(limit int, window time.Duration) (*Gate, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(limit, window, clock), clock
}

func TestAllowUpToLimit(t *testing.T) {
	gate, _ := newTestGate(10, time.Minute)

	for i := 0; i < 10; i++ {
		if !gate.Allow() {
			t.Fatalf("submission %d should be allowed", i+1)
		}
	}
	if gate.Allow() {
		t.Error("11th submission within window should be denied")
	}
	if gate.Pending() != 10 {
		t.Errorf("Pending() = %d, want 10", gate.Pending())
	}
}

func TestDeniedSubmissionNotRecorded(t *testing.T) {
	gate, clock := newTestGate(2, time.Minute)

	gate.Allow()
	gate.Allow()

	// 被拒绝的提交不占窗口配额
	for i := 0; i < 5; i++ {
		gate.Allow()
	}
	if gate.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", gate.Pending())
	}

	// 窗口滑过后恢复配额，拒绝的尝试不延长窗口
	clock.advance(61 * time.Second)
	if !gate.Allow() {
		t.Error("should be allowed after window slides past")
	}
}

func TestWindowSlides(t *testing.T) {
	gate, clock := newTestGate(10, time.Minute)

	// 填满窗口
	for i := 0; i < 10; i++ {
		gate.Allow()
		clock.advance(time.Second)
	}
	if gate.Allow() {
		t.Error("should be denied with full window")
	}

	// 第一条记录滑出窗口后放行一条
	clock.advance(51 * time.Second)
	if !gate.Allow() {
		t.Error("should be allowed after oldest entry expires")
	}
	if gate.Allow() {
		t.Error("second submission should still be denied")
	}
}

func TestEntryExactlyWindowOldStillCounts(t *testing.T) {
	gate, clock := newTestGate(1, time.Minute)

	gate.Allow()

	// 恰好一个窗口长度,记录尚未过期
	clock.advance(time.Minute)
	if gate.Allow() {
		t.Error("entry aged exactly one window must still occupy capacity")
	}

	clock.advance(time.Millisecond)
	if !gate.Allow() {
		t.Error("should be allowed once the entry is older than the window")
	}
}

func TestReset(t *testing.T) {
	gate, _ := newTestGate(1, time.Minute)

	gate.Allow()
	if gate.Allow() {
		t.Error("should be denied")
	}

	gate.Reset()
	if !gate.Allow() {
		t.Error("should be allowed after reset")
	}
}

func TestDefaultsOnInvalidArgs(t *testing.T) {
	gate := New(0, 0)
	if !gate.Allow() {
		t.Error("first submission should be allowed with defaulted limit")
	}
	if gate.Allow() {
		t.Error("defaulted limit should be 1")
	}
}

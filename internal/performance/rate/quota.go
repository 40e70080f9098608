// Package rate provides arrival-rate accounting for load executors.
package rate

import (
	"math"
	"sync"
	"time"
)

// epsilon absorbs float rounding so that, e.g., 0.1+0.2 ticks worth of
// a 10/s rate still yields the whole iteration that is due.
const epsilon = 1e-9

// Quota turns elapsed time into a count of iteration starts that are due.
//
// # Algorithm
//
// Quota keeps the running integral of the target rate over time rather than
// a fixed per-tick count. At each Advance it computes how many starts should
// have happened by now under the ideal rate, returns the difference from what
// it has already handed out and keeps the fractional remainder as carry.
// Rounding therefore never accumulates: after any elapsed time t the total
// handed out is floor(rate * t / timeUnit).
//
// Quota does not know whether the starts it hands out were actually made.
// Callers that cannot start an iteration drop it; the integral is not
// rewound, so dropped starts are never retried later.
//
// # Thread Safety
//
// Quota is safe for concurrent use, although one executor tick loop is the
// expected caller.
//
// # Example
//
//	q := NewQuota(1000, time.Second)
//	start := time.Now()
//	for range ticker.C {
//	    due := q.Advance(time.Since(start))
//	    // start `due` iterations
//	}
type Quota struct {
	rate     float64
	timeUnit time.Duration

	mu      sync.Mutex
	elapsed time.Duration
	issued  int64
	carry   float64
	ticks   int64
	maxTick int
}

// QuotaStats contains accounting information about a Quota.
type QuotaStats struct {
	Rate     float64       `json:"rate"`
	TimeUnit time.Duration `json:"timeUnit"`
	Elapsed  time.Duration `json:"elapsed"`
	Issued   int64         `json:"issued"`
	Carry    float64       `json:"carry"`
	Ticks    int64         `json:"ticks"`
	MaxTick  int           `json:"maxTick"`
}

// NewQuota creates a quota for rate iterations per timeUnit.
//
// Non-positive rates yield a quota that never issues starts; a
// non-positive timeUnit defaults to one second.
func NewQuota(rate float64, timeUnit time.Duration) *Quota {
	if rate < 0 || math.IsNaN(rate) {
		rate = 0
	}
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	return &Quota{
		rate:     rate,
		timeUnit: timeUnit,
	}
}

// Advance moves the quota's clock to elapsed (time since the run started)
// and returns how many starts became due since the previous call.
//
// Calls with elapsed earlier than a previous call return 0.
func (q *Quota) Advance(elapsed time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if elapsed < q.elapsed {
		elapsed = q.elapsed
	}
	q.elapsed = elapsed
	q.ticks++

	ideal := q.rate * float64(elapsed) / float64(q.timeUnit)
	whole := math.Floor(ideal + epsilon)
	q.carry = math.Max(ideal-whole, 0)

	due := int64(whole) - q.issued
	if due <= 0 {
		return 0
	}
	q.issued += due
	if int(due) > q.maxTick {
		q.maxTick = int(due)
	}
	return int(due)
}

// Stats returns accounting information. Executors report it with their own
// stats.
func (q *Quota) Stats() QuotaStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QuotaStats{
		Rate:     q.rate,
		TimeUnit: q.timeUnit,
		Elapsed:  q.elapsed,
		Issued:   q.issued,
		Carry:    q.carry,
		Ticks:    q.ticks,
		MaxTick:  q.maxTick,
	}
}

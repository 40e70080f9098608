package performance

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// VUPool is a bounded, elastic set of reusable virtual users.
//
// The pool starts with min pre-created VUs and grows lazily up to max as
// Acquire finds no idle VU. It never holds more than max VUs, so it never
// has more than max iterations running at once.
//
// # Backpressure
//
// Acquire never blocks. When every VU is busy and the pool is at max it
// returns ErrCapacityExhausted and leaves the decision to the caller; the
// arrival-rate executor treats this as a dropped start rather than a wait.
//
// # Thread Safety
//
// Acquire and Release are safe for concurrent use. Idle VUs are parked in a
// channel buffered to max; growth is serialised by a mutex that is only
// taken when the idle channel is empty.
type VUPool struct {
	scenario string
	workload Workload
	min      int
	max      int

	idle chan *VirtualUser

	mu  sync.Mutex
	vus []*VirtualUser

	running   atomic.Int64
	peak      atomic.Int64
	acquired  atomic.Int64
	exhausted atomic.Int64
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	Size      int   `json:"size"`
	Running   int64 `json:"running"`
	Peak      int64 `json:"peak"`
	Min       int   `json:"min"`
	Max       int   `json:"max"`
	Acquired  int64 `json:"acquired"`
	Exhausted int64 `json:"exhausted"`
}

// NewVUPool creates a pool with min pre-created VUs that may grow to max.
func NewVUPool(scenario string, workload Workload, min, max int) (*VUPool, error) {
	if workload == nil {
		return nil, fmt.Errorf("vu pool: workload is required")
	}
	if max < 1 {
		return nil, fmt.Errorf("vu pool: max must be at least 1, got %d", max)
	}
	if min < 0 || min > max {
		return nil, fmt.Errorf("vu pool: min must be between 0 and max (%d), got %d", max, min)
	}

	p := &VUPool{
		scenario: scenario,
		workload: workload,
		min:      min,
		max:      max,
		idle:     make(chan *VirtualUser, max),
		vus:      make([]*VirtualUser, 0, max),
	}
	for i := 0; i < min; i++ {
		p.idle <- p.newVU()
	}
	return p, nil
}

// newVU must be called with mu held or before the pool is shared.
func (p *VUPool) newVU() *VirtualUser {
	vu := NewVirtualUser(len(p.vus)+1, p.scenario, p.workload)
	p.vus = append(p.vus, vu)
	return vu
}

// Acquire borrows an idle VU, growing the pool if it is below max.
//
// Returns ErrCapacityExhausted without blocking when all max VUs are busy.
// The returned VU is in the Running state until passed to Release.
func (p *VUPool) Acquire() (*VirtualUser, error) {
	select {
	case vu := <-p.idle:
		return p.take(vu)
	default:
	}

	if vu := p.grow(); vu != nil {
		return p.take(vu)
	}

	// A release may have landed while we were checking the size.
	select {
	case vu := <-p.idle:
		return p.take(vu)
	default:
	}

	p.exhausted.Add(1)
	return nil, ErrCapacityExhausted
}

func (p *VUPool) grow() *VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.vus) >= p.max {
		return nil
	}
	return p.newVU()
}

func (p *VUPool) take(vu *VirtualUser) (*VirtualUser, error) {
	if !vu.claim() {
		return nil, fmt.Errorf("vu pool: vu %d handed out while %s", vu.ID, vu.State())
	}
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.acquired.Add(1)
	return vu, nil
}

// Release returns a VU to the pool, making it immediately eligible for
// reacquisition. Releasing a VU that is not running is an error and leaves
// the pool untouched.
func (p *VUPool) Release(vu *VirtualUser) error {
	if vu == nil {
		return fmt.Errorf("vu pool: release of nil vu")
	}
	if !vu.free() {
		return fmt.Errorf("vu pool: vu %d released while %s", vu.ID, vu.State())
	}
	p.running.Add(-1)
	p.idle <- vu
	return nil
}

// Size returns the number of VUs created so far.
func (p *VUPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vus)
}

// Running returns the number of VUs currently borrowed.
func (p *VUPool) Running() int64 {
	return p.running.Load()
}

// Max returns the pool ceiling.
func (p *VUPool) Max() int {
	return p.max
}

// Stats returns a snapshot of pool usage counters.
func (p *VUPool) Stats() PoolStats {
	return PoolStats{
		Size:      p.Size(),
		Running:   p.running.Load(),
		Peak:      p.peak.Load(),
		Min:       p.min,
		Max:       p.max,
		Acquired:  p.acquired.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

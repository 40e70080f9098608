// Package metrics aggregates iteration results into constant-memory
// running statistics.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/loadcheck/internal/performance"
)

// OtherReason collects failure reasons once the per-reason table is full.
const OtherReason = "other"

// Aggregator turns a stream of IterationResults into running statistics.
//
// Key features:
// - Exact iteration, failure and per-check counts
// - HDR histograms for iteration and request latency quantiles
// - Bounded failure-reason table
// - Capacity-exhaustion accounting fed by the executor
// - Per-interval timeline kept in a fixed-size ring buffer
//
// # Quantile Error
//
// Latencies are recorded at microsecond resolution into HDR histograms
// covering HistogramMin..HistogramMax with HistogramSigFigs significant
// digits. With the default 3 digits each recorded value is kept within
// 0.1% (relative) plus 1µs. A reported quantile carries that value error
// plus the error of rounding to a neighbouring rank, so it stays within 1%
// plus 1µs of the exact quantile for any sample large enough to resolve the
// percentile. Memory depends only on the configured range, never on how
// many results are added.
//
// # Thread Safety
//
// Add, RecordDropped and Snapshot are safe for concurrent use. All
// statistics share a single mutex so a Snapshot never observes a result
// counted but not yet recorded in the histogram; each critical section is
// a handful of counter updates and one histogram write.
type Aggregator struct {
	mu sync.Mutex

	hist    *hdrhistogram.Histogram
	reqHist *hdrhistogram.Histogram

	count          int64
	failures       int64
	dropped        int64
	exhaustedTicks int64
	checks         map[string]*CheckCounts
	reasons        map[string]int64

	startTime time.Time
	timeline  *Timeline

	config Config
}

// Config contains configuration for the aggregator.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// MaxFailureReasons bounds the distinct failure reasons kept (default: 32)
	MaxFailureReasons int

	// MaxBuckets is the number of timeline buckets retained (default: 3600)
	MaxBuckets int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:      1,
		HistogramMax:      3600000000, // 1 hour in microseconds
		HistogramSigFigs:  3,
		MaxFailureReasons: 32,
		MaxBuckets:        3600,
	}
}

// CheckCounts counts passes and fails of one named check.
type CheckCounts struct {
	Passes int64 `json:"passes"`
	Fails  int64 `json:"fails"`
}

// Total returns passes plus fails.
func (c CheckCounts) Total() int64 {
	return c.Passes + c.Fails
}

// New creates an aggregator with default configuration.
func New() *Aggregator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an aggregator with custom configuration.
// Zero fields fall back to their defaults.
func NewWithConfig(config Config) *Aggregator {
	def := DefaultConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.MaxFailureReasons <= 0 {
		config.MaxFailureReasons = def.MaxFailureReasons
	}
	if config.MaxBuckets <= 0 {
		config.MaxBuckets = def.MaxBuckets
	}

	return &Aggregator{
		hist:      hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		reqHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checks:    make(map[string]*CheckCounts),
		reasons:   make(map[string]int64),
		startTime: time.Now(),
		timeline:  NewTimeline(config.MaxBuckets),
		config:    config,
	}
}

// Start sets the reference time for elapsed and rate figures.
func (a *Aggregator) Start(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startTime = t
	a.timeline.start(t)
}

// Add ingests one completed iteration.
func (a *Aggregator) Add(r performance.IterationResult) {
	iteration := a.clamp(r.Latency)
	request := iteration
	if r.RequestDuration > 0 {
		request = a.clamp(r.RequestDuration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// RecordValue only fails outside the trackable range, which clamp
	// rules out.
	_ = a.hist.RecordValue(iteration)
	_ = a.reqHist.RecordValue(request)
	a.count++

	failed := r.Outcome.Failed()
	if failed {
		a.failures++
		a.recordReason(r.Outcome.Reason)
	}

	for name, ok := range r.Checks {
		c, exists := a.checks[name]
		if !exists {
			c = &CheckCounts{}
			a.checks[name] = c
		}
		if ok {
			c.Passes++
		} else {
			c.Fails++
		}
	}

	a.timeline.record(failed)
}

func (a *Aggregator) clamp(d time.Duration) int64 {
	return min(max(d.Microseconds(), a.config.HistogramMin), a.config.HistogramMax)
}

func (a *Aggregator) recordReason(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if _, ok := a.reasons[reason]; !ok && len(a.reasons) >= a.config.MaxFailureReasons {
		reason = OtherReason
	}
	a.reasons[reason]++
}

// RecordDropped records one capacity-exhausted tick on which n iteration
// starts could not be made. Dropped starts are not iterations and never
// count as failures.
func (a *Aggregator) RecordDropped(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropped += int64(n)
	a.exhaustedTicks++
	a.timeline.drop(int64(n))
}

// Snapshot returns a consistent point-in-time view.
//
// The snapshot owns a frozen copy of the histogram, so quantiles may be
// queried on it while ingestion continues.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	frozen := hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs)
	frozen.Merge(a.hist)
	frozenReq := hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs)
	frozenReq.Merge(a.reqHist)

	snap := &Snapshot{
		Count:                  a.count,
		FailureCount:           a.failures,
		SuccessCount:           a.count - a.failures,
		Dropped:                a.dropped,
		CapacityExhaustedTicks: a.exhaustedTicks,
		Checks:                 make(map[string]CheckCounts, len(a.checks)),
		FailureReasons:         make(map[string]int64, len(a.reasons)),
		StartTime:              a.startTime,
		hist:                   frozen,
		reqHist:                frozenReq,
	}
	for name, c := range a.checks {
		snap.Checks[name] = *c
	}
	for reason, n := range a.reasons {
		snap.FailureReasons[reason] = n
	}
	a.mu.Unlock()

	snap.Timestamp = time.Now()
	snap.Elapsed = snap.Timestamp.Sub(snap.StartTime)
	snap.Latency = latencyStats(frozen)
	snap.RequestLatency = latencyStats(frozenReq)
	return snap
}

// Emit closes the current timeline interval and returns its bucket.
func (a *Aggregator) Emit() *TimeBucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.timeline.emit(time.Now(), a.count, a.hist)
}

// Timeline returns the emitted buckets in chronological order.
func (a *Aggregator) Timeline() []*TimeBucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timeline.buckets()
}

// Reset returns the aggregator to its initial state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.hist.Reset()
	a.reqHist.Reset()
	a.count = 0
	a.failures = 0
	a.dropped = 0
	a.exhaustedTicks = 0
	a.checks = make(map[string]*CheckCounts)
	a.reasons = make(map[string]int64)
	a.startTime = time.Now()
	a.timeline = NewTimeline(a.config.MaxBuckets)
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Snapshot contains a point-in-time view of the aggregated results.
type Snapshot struct {
	Count                  int64                  `json:"count"`
	FailureCount           int64                  `json:"failureCount"`
	SuccessCount           int64                  `json:"successCount"`
	Dropped                int64                  `json:"dropped"`
	CapacityExhaustedTicks int64                  `json:"capacityExhaustedTicks"`
	Checks                 map[string]CheckCounts `json:"checks,omitempty"`
	FailureReasons         map[string]int64       `json:"failureReasons,omitempty"`
	Latency                LatencyStats           `json:"latency"`
	RequestLatency         LatencyStats           `json:"requestLatency"`
	Elapsed                time.Duration          `json:"elapsed"`
	StartTime              time.Time              `json:"startTime"`
	Timestamp              time.Time              `json:"timestamp"`

	hist    *hdrhistogram.Histogram
	reqHist *hdrhistogram.Histogram
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Quantile returns the iteration latency estimate at percentile p
// (0..100). It returns 0 when the snapshot holds no samples.
func (s *Snapshot) Quantile(p float64) time.Duration {
	return quantile(s.hist, p)
}

// RequestQuantile returns the request duration estimate at percentile p
// (0..100). It returns 0 when the snapshot holds no samples.
func (s *Snapshot) RequestQuantile(p float64) time.Duration {
	return quantile(s.reqHist, p)
}

func quantile(h *hdrhistogram.Histogram, p float64) time.Duration {
	if h == nil || h.TotalCount() == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))
	return micros(h.ValueAtQuantile(p))
}

// FailureRate returns FailureCount/Count; ok is false with no samples.
func (s *Snapshot) FailureRate() (rate float64, ok bool) {
	if s.Count == 0 {
		return 0, false
	}
	return float64(s.FailureCount) / float64(s.Count), true
}

// IterationRate returns completed iterations per second over Elapsed.
func (s *Snapshot) IterationRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Count) / s.Elapsed.Seconds()
}

// DroppedRate returns dropped starts per second over Elapsed.
func (s *Snapshot) DroppedRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Dropped) / s.Elapsed.Seconds()
}

// CheckTotals sums passes and fails across every check.
func (s *Snapshot) CheckTotals() CheckCounts {
	var total CheckCounts
	for _, c := range s.Checks {
		total.Passes += c.Passes
		total.Fails += c.Fails
	}
	return total
}

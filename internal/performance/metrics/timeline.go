package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TimeBucket summarises one emission interval of a run.
type TimeBucket struct {
	Timestamp          time.Time     `json:"timestamp"`
	Elapsed            time.Duration `json:"elapsed"`
	TotalIterations    int64         `json:"totalIterations"`
	IntervalIterations int64         `json:"intervalIterations"`
	IntervalFailures   int64         `json:"intervalFailures"`
	IntervalDropped    int64         `json:"intervalDropped"`
	IntervalRate       float64       `json:"intervalRate"`
	LatencyP95         time.Duration `json:"latencyP95"`
	LatencyP99         time.Duration `json:"latencyP99"`
}

// Timeline stores emitted buckets in a ring buffer, discarding the oldest
// once maxBuckets is reached. It is not safe for concurrent use; the
// Aggregator guards it with its own mutex.
type Timeline struct {
	ring       []*TimeBucket
	head       int // Next write position
	count      int
	maxBuckets int

	startTime time.Time
	lastEmit  time.Time

	// Current interval accumulators
	iterations int64
	failures   int64
	dropped    int64
}

// NewTimeline creates a timeline retaining at most maxBuckets buckets.
func NewTimeline(maxBuckets int) *Timeline {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	now := time.Now()
	return &Timeline{
		ring:       make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		startTime:  now,
		lastEmit:   now,
	}
}

func (t *Timeline) start(at time.Time) {
	t.startTime = at
	t.lastEmit = at
}

func (t *Timeline) record(failed bool) {
	t.iterations++
	if failed {
		t.failures++
	}
}

func (t *Timeline) drop(n int64) {
	t.dropped += n
}

func (t *Timeline) emit(now time.Time, total int64, hist *hdrhistogram.Histogram) *TimeBucket {
	interval := now.Sub(t.lastEmit).Seconds()
	if interval <= 0 {
		interval = 1
	}

	b := &TimeBucket{
		Timestamp:          now,
		Elapsed:            now.Sub(t.startTime),
		TotalIterations:    total,
		IntervalIterations: t.iterations,
		IntervalFailures:   t.failures,
		IntervalDropped:    t.dropped,
		IntervalRate:       float64(t.iterations) / interval,
	}
	if hist.TotalCount() > 0 {
		b.LatencyP95 = micros(hist.ValueAtQuantile(95))
		b.LatencyP99 = micros(hist.ValueAtQuantile(99))
	}

	t.ring[t.head] = b
	t.head = (t.head + 1) % t.maxBuckets
	if t.count < t.maxBuckets {
		t.count++
	}

	t.lastEmit = now
	t.iterations = 0
	t.failures = 0
	t.dropped = 0
	return b
}

// buckets returns the retained buckets in chronological order.
func (t *Timeline) buckets() []*TimeBucket {
	if t.count == 0 {
		return nil
	}
	out := make([]*TimeBucket, t.count)
	first := 0
	if t.count == t.maxBuckets {
		first = t.head
	}
	for i := 0; i < t.count; i++ {
		out[i] = t.ring[(first+i)%t.maxBuckets]
	}
	return out
}

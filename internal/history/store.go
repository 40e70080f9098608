// Package history persists run summaries in a local bbolt database so
// previous verdicts can be listed from CI.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/loadcheck/internal/performance/engine"
	"github.com/wesleyorama2/loadcheck/internal/performance/threshold"
)

const (
	BucketRuns = "runs"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Entry is the persisted summary of one run.
type Entry struct {
	RunID       string           `json:"runId"`
	Scenario    string           `json:"scenario"`
	Executor    string           `json:"executor"`
	StartTime   time.Time        `json:"startTime"`
	Duration    time.Duration    `json:"duration"`
	Status      threshold.Status `json:"status"`
	Aborted     bool             `json:"aborted,omitempty"`
	AbortReason string           `json:"abortReason,omitempty"`
	Violated    []string         `json:"violated,omitempty"`

	Iterations int64 `json:"iterations"`
	Failures   int64 `json:"failures"`
	Dropped    int64 `json:"dropped"`

	// Iteration latency quantiles.
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// EntryFromReport summarises report.
func EntryFromReport(report *engine.Report) Entry {
	e := Entry{
		RunID:     report.RunID,
		Scenario:  report.Name,
		Executor:  report.Executor,
		StartTime: report.StartTime,
		Duration:  report.Duration,
		Status:    report.Status(),
	}
	if v := report.Verdict; v != nil {
		e.Aborted = v.Aborted
		e.AbortReason = v.AbortReason
		for _, expr := range v.Violated {
			e.Violated = append(e.Violated, expr.String())
		}
	}
	if snap := report.Snapshot(); snap != nil {
		e.Iterations = snap.Count
		e.Failures = snap.FailureCount
		e.Dropped = snap.Dropped
		e.P50 = snap.Latency.P50
		e.P95 = snap.Latency.P95
		e.P99 = snap.Latency.P99
	}
	return e
}

// Store is a bbolt-backed run history. Entries are keyed by start time so
// a cursor walks them chronologically.
type Store struct {
	db *bbolt.DB
}

// DefaultPath returns ~/.loadcheck/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".loadcheck", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores e, replacing any entry with the same start time and run ID.
func (s *Store) Save(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put(entryKey(e), data)
	})
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("corrupt history entry %x: %w", k, err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the entry for runID.
func (s *Store) Get(runID string) (*Entry, error) {
	var found *Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(k, v []byte) error {
			if string(k[8:]) != runID {
				return nil
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			found = &e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return found, nil
}

// Prune deletes all but the newest keep entries and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))

		var stale [][]byte
		seen := 0
		c := b.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// entryKey is the big-endian start time in nanoseconds followed by the
// run ID.
func entryKey(e Entry) []byte {
	key := make([]byte, 8, 8+len(e.RunID))
	binary.BigEndian.PutUint64(key, uint64(e.StartTime.UnixNano()))
	return append(key, e.RunID...)
}

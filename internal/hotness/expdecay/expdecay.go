// Package expdecay implements exponential time-decay hotness scoring for
// cache pages.
package expdecay

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gpucachelab/hotpage/internal/hotness"
)

var ErrInvalidHalfLife = errors.New("expdecay: half-life must be positive")

// Scores computes a decayed hotness score for every key in counts.
//
// A key missing from lastAccess is treated as accessed at now, so its count
// passes through undecayed. Keys present only in lastAccess are ignored. A
// negative time delta (clock skew, out-of-order updates) is clamped to zero
// rather than amplifying the score.
//
// The function is pure: it reads both maps, writes neither, and returns a
// fresh map whose key set equals the key set of counts. Callers may invoke
// it concurrently on independent inputs.
func Scores[K comparable](counts, lastAccess map[K]float64, now, halfLife float64) (map[K]float64, error) {
	if !(halfLife > 0) {
		// rejects zero, negatives and NaN before any work
		return nil, ErrInvalidHalfLife
	}
	lambda := math.Ln2 / halfLife

	out := make(map[K]float64, len(counts))
	for k, count := range counts {
		last, ok := lastAccess[k]
		if !ok {
			// never seen decaying: treat as just accessed
			last = now
		}
		dt := now - last
		if dt < 0 {
			dt = 0
		}
		out[k] = count * math.Exp(-lambda*dt)
	}
	return out, nil
}

const numShards = 64

// Tracker records raw access statistics per page: how many times it was
// touched and when it was touched last. It does not decay anything itself;
// Snapshot feeds Scores, which owns the decay math.
type Tracker struct {
	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*stat
}

type stat struct {
	count float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*stat)
	}
	return t
}

func (t *Tracker) Inc(page string) {
	if page == "" {
		return
	}
	s := t.pick(page)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[page]
	if c == nil {
		s.m[page] = &stat{count: 1, last: n}
		return
	}
	c.count++
	c.last = n
}

// Snapshot copies the tracked statistics into the two maps Scores consumes.
// Timestamps are Unix seconds as float64.
func (t *Tracker) Snapshot() (counts, lastAccess map[string]float64) {
	n := t.Size()
	counts = make(map[string]float64, n)
	lastAccess = make(map[string]float64, n)
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for page, c := range s.m {
			counts[page] = c.count
			lastAccess[page] = unixSeconds(c.last)
		}
		s.mu.RUnlock()
	}
	return counts, lastAccess
}

func (t *Tracker) Reset(pages ...string) {
	for _, page := range pages {
		if page == "" {
			continue
		}
		s := t.pick(page)
		s.mu.Lock()
		delete(s.m, page)
		s.mu.Unlock()
	}
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}

func (t *Tracker) pick(page string) *shard {
	h := xxhash.Sum64String(page)
	idx := h & (uint64(len(t.shards)) - 1)
	return &t.shards[idx]
}

func unixSeconds(tm time.Time) float64 {
	return float64(tm.UnixNano()) / float64(time.Second)
}

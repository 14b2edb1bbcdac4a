package utils

import (
	"slices"
	"sync"
	"time"
)

// LatencySnapshot summarises the samples held by a LatencyTracker.
type LatencySnapshot struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// LatencyTracker keeps the most recent durations in a fixed ring and answers
// percentile queries over them.
type LatencyTracker struct {
	mu    sync.Mutex
	ring  []time.Duration
	next  int
	full  bool
	total uint64
}

// NewLatencyTracker creates a tracker retaining the last size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records one duration, overwriting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next++
	l.total++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retained()
}

// Total returns how many samples were ever observed.
func (l *LatencyTracker) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Percentile returns the nearest-rank percentile (0-100) of the retained
// samples, or zero when empty.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return percentile(l.sorted(), p)
}

// Snapshot computes count, median, p95 and max in one pass over a sorted copy.
func (l *LatencyTracker) Snapshot() LatencySnapshot {
	sorted := l.sorted()
	if len(sorted) == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: len(sorted),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		Max:   sorted[len(sorted)-1],
	}
}

func (l *LatencyTracker) retained() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.Lock()
	out := slices.Clone(l.ring[:l.retained()])
	l.mu.Unlock()
	slices.Sort(out)
	return out
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	idx := int(p / 100 * float64(len(sorted)-1))
	return sorted[idx]
}

// Package metrics keeps rolling latency windows for the frame pipeline.
package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const DefaultWindowSize = 512

// Window holds the most recent durations in a ring buffer.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	total   int64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{samples: make([]float64, size)}
}

func (w *Window) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = float64(d) / float64(time.Millisecond)
	w.next++
	w.total++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Summary describes a window in milliseconds.
type Summary struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func (w *Window) Summary() Summary {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	xs := make([]float64, n)
	copy(xs, w.samples[:n])
	total := w.total
	w.mu.Unlock()

	if len(xs) == 0 {
		return Summary{Count: total}
	}

	sort.Float64s(xs)
	return Summary{
		Count:  total,
		MeanMs: stat.Mean(xs, nil),
		P50Ms:  stat.Quantile(0.5, stat.Empirical, xs, nil),
		P95Ms:  stat.Quantile(0.95, stat.Empirical, xs, nil),
		MaxMs:  xs[len(xs)-1],
	}
}

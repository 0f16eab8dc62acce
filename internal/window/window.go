// Package window implements a fixed-capacity FIFO sample window with
// rolling statistics. One window tracks one signal for one context.
package window

import (
	"errors"
	"math"
)

// ErrInvalidSample is returned when a pushed value is NaN or infinite.
// The sample is dropped and the window is left unchanged.
var ErrInvalidSample = errors.New("invalid sample: value must be finite")

// Stats is the snapshot of window statistics after a push.
type Stats struct {
	Mean     float64
	Variance float64
	StdDev   float64
	Count    int
	// Trend is the newest sample's delta from the window mean. Positive
	// means the signal is running above its recent baseline.
	Trend float64
}

// Window holds the last N samples of one signal in insertion order.
// Oldest samples are evicted FIFO at capacity. A capacity of 0 makes the
// window a passthrough that reports only the most recent sample.
type Window struct {
	capacity int
	buf      []float64
	next     int
	count    int
	last     float64
}

// New creates a window with the given capacity.
func New(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	w := &Window{capacity: capacity}
	if capacity > 0 {
		w.buf = make([]float64, 0, capacity)
	}
	return w
}

// Push appends a sample and returns updated statistics. Non-finite values
// are rejected with ErrInvalidSample.
func (w *Window) Push(v float64) (Stats, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return w.Stats(), ErrInvalidSample
	}

	w.last = v
	if w.capacity == 0 {
		w.count = 1
		return w.Stats(), nil
	}

	if len(w.buf) < w.capacity {
		w.buf = append(w.buf, v)
	} else {
		w.buf[w.next] = v
	}
	w.next = (w.next + 1) % w.capacity
	w.count = len(w.buf)

	return w.Stats(), nil
}

// Stats computes the current window statistics without mutating the window.
func (w *Window) Stats() Stats {
	if w.count == 0 {
		return Stats{}
	}
	if w.capacity == 0 {
		return Stats{Mean: w.last, Count: 1}
	}

	var sum float64
	for _, v := range w.buf {
		sum += v
	}
	mean := sum / float64(len(w.buf))

	var m2 float64
	for _, v := range w.buf {
		d := v - mean
		m2 += d * d
	}
	var variance float64
	if len(w.buf) > 1 {
		variance = m2 / float64(len(w.buf)-1)
	}

	return Stats{
		Mean:     mean,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
		Count:    len(w.buf),
		Trend:    w.last - mean,
	}
}

// Count returns the number of retained samples.
func (w *Window) Count() int {
	return w.count
}

// Capacity returns the configured window size.
func (w *Window) Capacity() int {
	return w.capacity
}

package engine

import (
	"math"
	"sort"
)

// window is a fixed-capacity ring buffer of float64 samples. The
// oldest sample is evicted first once the buffer is full.
type window struct {
	buf   []float64
	head  int
	count int
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}

	return &window{buf: make([]float64, capacity)}
}

func (w *window) push(v float64) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = v
		w.count++
		return
	}

	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

func (w *window) len() int {
	return w.count
}

func (w *window) at(i int) float64 {
	return w.buf[(w.head+i)%len(w.buf)]
}

func (w *window) mean() float64 {
	if w.count == 0 {
		return 0
	}

	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.at(i)
	}

	return sum / float64(w.count)
}

// stddev returns the population standard deviation over the samples
// currently held; fewer than two samples yield zero.
func (w *window) stddev() float64 {
	if w.count < 2 {
		return 0
	}

	m := w.mean()
	ss := 0.0
	for i := 0; i < w.count; i++ {
		d := w.at(i) - m
		ss += d * d
	}

	return math.Sqrt(ss / float64(w.count))
}

func (w *window) median() float64 {
	if w.count == 0 {
		return 0
	}

	vals := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		vals[i] = w.at(i)
	}
	sort.Float64s(vals)

	return vals[w.count/2]
}

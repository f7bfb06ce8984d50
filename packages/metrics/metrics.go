// Package metrics records request latencies of a smoke run and summarizes
// them as percentiles.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// latencies are recorded in microseconds, 1us to 10min
	minLatencyUs = 1
	maxLatencyUs = 600_000_000
	sigFigs      = 3
)

// Recorder collects request latencies overall and per request name
type Recorder struct {
	mu sync.Mutex

	total     int64
	errors    int64
	histogram *hdrhistogram.Histogram
	byName    map[string]*nameMetrics
	order     []string
}

type nameMetrics struct {
	total     int64
	errors    int64
	histogram *hdrhistogram.Histogram
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs),
		byName:    make(map[string]*nameMetrics),
	}
}

// Record records one request. failed marks transport errors and failure statuses.
func (r *Recorder) Record(name string, d time.Duration, failed bool) {
	us := clamp(d.Microseconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if failed {
		r.errors++
	}
	_ = r.histogram.RecordValue(us)

	if name == "" {
		return
	}
	nm, ok := r.byName[name]
	if !ok {
		nm = &nameMetrics{histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)}
		r.byName[name] = nm
		r.order = append(r.order, name)
	}
	nm.total++
	if failed {
		nm.errors++
	}
	_ = nm.histogram.RecordValue(us)
}

func clamp(us int64) int64 {
	if us < minLatencyUs {
		return minLatencyUs
	}
	if us > maxLatencyUs {
		return maxLatencyUs
	}
	return us
}

// Summary is a point-in-time view of the recorded latencies
type Summary struct {
	TotalRequests int64          `json:"totalRequests"`
	ErrorCount    int64          `json:"errorCount"`
	P50           time.Duration  `json:"p50"`
	P95           time.Duration  `json:"p95"`
	Max           time.Duration  `json:"max"`
	Mean          time.Duration  `json:"mean"`
	ByName        []*NameSummary `json:"byName,omitempty"`
}

// NameSummary holds the summary for a single request name
type NameSummary struct {
	Name   string        `json:"name"`
	Total  int64         `json:"total"`
	Errors int64         `json:"errors"`
	P50    time.Duration `json:"p50"`
	Max    time.Duration `json:"max"`
}

// Summary returns the current summary. Names appear in first-recorded order.
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Summary{
		TotalRequests: r.total,
		ErrorCount:    r.errors,
	}
	if r.total == 0 {
		return s
	}

	s.P50 = us(r.histogram.ValueAtQuantile(50))
	s.P95 = us(r.histogram.ValueAtQuantile(95))
	s.Max = us(r.histogram.Max())
	s.Mean = us(int64(r.histogram.Mean()))

	for _, name := range r.order {
		nm := r.byName[name]
		s.ByName = append(s.ByName, &NameSummary{
			Name:   name,
			Total:  nm.total,
			Errors: nm.errors,
			P50:    us(nm.histogram.ValueAtQuantile(50)),
			Max:    us(nm.histogram.Max()),
		})
	}
	return s
}

// Slowest returns up to n request names ordered by their max latency
func (s *Summary) Slowest(n int) []*NameSummary {
	out := append([]*NameSummary(nil), s.ByName...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Max > out[j].Max })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func us(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Package metrics aggregates request outcomes and latencies from a session.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/abdul-hamid-achik/courier/packages/session"
)

// Latencies are recorded in microseconds between 1us and 60s.
const (
	minLatency = 1
	maxLatency = 60_000_000
)

// Recorder is a session.Observer collecting per-endpoint latency histograms.
type Recorder struct {
	mu sync.RWMutex

	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cancelled atomic.Int64
	retries   atomic.Int64

	// duration is submission to completion, firstByte is submission to the
	// initial response
	duration  *hdrhistogram.Histogram
	firstByte *hdrhistogram.Histogram

	endpoints map[string]*endpoint

	startTime time.Time
	endTime   time.Time
	now       func() time.Time
}

type endpoint struct {
	mu        sync.Mutex
	total     int64
	errors    int64
	histogram *hdrhistogram.Histogram
}

var _ session.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder. The measurement window starts now.
func NewRecorder() *Recorder {
	r := &Recorder{
		duration:  newHistogram(),
		firstByte: newHistogram(),
		endpoints: make(map[string]*endpoint),
		now:       time.Now,
	}
	r.startTime = r.now()
	return r
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency, maxLatency, 3)
}

func micros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatency {
		us = minLatency
	}
	if us > maxLatency {
		us = maxLatency
	}
	return us
}

// Stop closes the measurement window used for the request rate.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.endTime = r.now()
	r.mu.Unlock()
}

func (r *Recorder) RequestResumed(*session.Request)   {}
func (r *Recorder) RequestSuspended(*session.Request) {}

func (r *Recorder) RequestCancelled(*session.Request) {
	r.cancelled.Add(1)
}

func (r *Recorder) RequestRetrying(*session.Request, error, time.Duration) {
	r.retries.Add(1)
}

// RequestCompleted records the finished request under "METHOD host".
func (r *Recorder) RequestCompleted(req *session.Request, err error) {
	name := ""
	if hr := req.HTTPRequest(); hr != nil {
		name = hr.Method + " " + hr.URL.Host
	}
	tl := req.Timeline()
	r.Record(name, tl.RequestDuration(), tl.Latency(), err)
}

// Record adds one finished request. name may be empty.
func (r *Recorder) Record(name string, duration, firstByte time.Duration, err error) {
	r.total.Add(1)
	if err != nil {
		r.errors.Add(1)
	} else {
		r.success.Add(1)
	}

	r.mu.Lock()
	_ = r.duration.RecordValue(micros(duration))
	_ = r.firstByte.RecordValue(micros(firstByte))
	ep := r.endpoints[name]
	if name != "" && ep == nil {
		ep = &endpoint{histogram: newHistogram()}
		r.endpoints[name] = ep
	}
	r.mu.Unlock()

	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.total++
	if err != nil {
		ep.errors++
	}
	_ = ep.histogram.RecordValue(micros(duration))
	ep.mu.Unlock()
}

// Summary is a point in time view of the recorded requests.
type Summary struct {
	Duration  time.Duration
	Total     int64
	Success   int64
	Errors    int64
	Cancelled int64
	Retries   int64

	RPS         float64
	SuccessRate float64

	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration

	// FirstByteP50 is the median time to the initial response
	FirstByteP50 time.Duration

	Endpoints []EndpointSummary
}

// EndpointSummary breaks the summary down per "METHOD host".
type EndpointSummary struct {
	Name   string
	Total  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	Mean   time.Duration
}

func us(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

// Summary returns the aggregated statistics.
func (r *Recorder) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	end := r.endTime
	if end.IsZero() {
		end = r.now()
	}
	elapsed := end.Sub(r.startTime)

	s := Summary{
		Duration:     elapsed,
		Total:        r.total.Load(),
		Success:      r.success.Load(),
		Errors:       r.errors.Load(),
		Cancelled:    r.cancelled.Load(),
		Retries:      r.retries.Load(),
		P50:          us(r.duration.ValueAtQuantile(50)),
		P95:          us(r.duration.ValueAtQuantile(95)),
		P99:          us(r.duration.ValueAtQuantile(99)),
		Min:          us(r.duration.Min()),
		Max:          us(r.duration.Max()),
		Mean:         time.Duration(r.duration.Mean()) * time.Microsecond,
		StdDev:       time.Duration(r.duration.StdDev()) * time.Microsecond,
		FirstByteP50: us(r.firstByte.ValueAtQuantile(50)),
	}
	if elapsed.Seconds() > 0 {
		s.RPS = float64(s.Total) / elapsed.Seconds()
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Success) / float64(s.Total)
	}

	for name, ep := range r.endpoints {
		ep.mu.Lock()
		s.Endpoints = append(s.Endpoints, EndpointSummary{
			Name:   name,
			Total:  ep.total,
			Errors: ep.errors,
			P50:    us(ep.histogram.ValueAtQuantile(50)),
			P95:    us(ep.histogram.ValueAtQuantile(95)),
			Mean:   time.Duration(ep.histogram.Mean()) * time.Microsecond,
		})
		ep.mu.Unlock()
	}
	sort.Slice(s.Endpoints, func(i, j int) bool { return s.Endpoints[i].Name < s.Endpoints[j].Name })
	return s
}

// Thresholds fail a run when exceeded. Zero values are not checked.
type Thresholds struct {
	P95       time.Duration
	P99       time.Duration
	ErrorRate float64
}

// ThresholdResult is the outcome of one threshold check.
type ThresholdResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Check evaluates t against the current summary.
func (r *Recorder) Check(t Thresholds) []ThresholdResult {
	s := r.Summary()
	var results []ThresholdResult

	if t.P95 > 0 {
		results = append(results, ThresholdResult{
			Name:     "p95",
			Passed:   s.P95 <= t.P95,
			Expected: "<= " + t.P95.String(),
			Actual:   s.P95.String(),
		})
	}
	if t.P99 > 0 {
		results = append(results, ThresholdResult{
			Name:     "p99",
			Passed:   s.P99 <= t.P99,
			Expected: "<= " + t.P99.String(),
			Actual:   s.P99.String(),
		})
	}
	if t.ErrorRate > 0 {
		errorRate := 0.0
		if s.Total > 0 {
			errorRate = float64(s.Errors) / float64(s.Total)
		}
		results = append(results, ThresholdResult{
			Name:     "error rate",
			Passed:   errorRate <= t.ErrorRate,
			Expected: "<= " + formatPercent(t.ErrorRate),
			Actual:   formatPercent(errorRate),
		})
	}
	return results
}

func formatPercent(f float64) string {
	v := math.Round(f*10000) / 100
	if v == float64(int(v)) {
		return strconv.Itoa(int(v)) + "%"
	}
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

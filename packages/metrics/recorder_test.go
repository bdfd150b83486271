package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/engine"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
	"github.com/abdul-hamid-achik/courier/packages/session"
)

func TestRecorderRecord(t *testing.T) {
	r := NewRecorder()

	r.Record("GET api.test", 100*time.Millisecond, 20*time.Millisecond, nil)
	r.Record("GET api.test", 150*time.Millisecond, 30*time.Millisecond, nil)
	r.Record("POST api.test", 200*time.Millisecond, 40*time.Millisecond, nil)
	r.Record("GET api.test", 50*time.Millisecond, 10*time.Millisecond, errors.New("boom"))
	r.Stop()

	s := r.Summary()
	assert.Equal(t, int64(4), s.Total)
	assert.Equal(t, int64(3), s.Success)
	assert.Equal(t, int64(1), s.Errors)
	assert.InDelta(t, 0.75, s.SuccessRate, 0.001)

	require.Len(t, s.Endpoints, 2)
	assert.Equal(t, "GET api.test", s.Endpoints[0].Name)
	assert.Equal(t, int64(3), s.Endpoints[0].Total)
	assert.Equal(t, int64(1), s.Endpoints[0].Errors)
	assert.Equal(t, "POST api.test", s.Endpoints[1].Name)
}

func TestRecorderPercentiles(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 100; i++ {
		r.Record("", time.Duration(i+1)*time.Millisecond, time.Millisecond, nil)
	}

	s := r.Summary()
	assert.InDelta(t, float64(50*time.Millisecond), float64(s.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(95*time.Millisecond), float64(s.P95), float64(time.Millisecond))
	assert.InDelta(t, float64(time.Millisecond), float64(s.Min), float64(10*time.Microsecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(s.Max), float64(time.Millisecond))
	assert.True(t, s.P50 <= s.P95)
	assert.True(t, s.P95 <= s.P99)
	assert.Empty(t, s.Endpoints)
}

func TestRecorderClampsLatency(t *testing.T) {
	r := NewRecorder()
	r.Record("", 0, 0, nil)
	r.Record("", 2*time.Minute, 0, nil)

	s := r.Summary()
	assert.Equal(t, time.Microsecond, s.Min)
	assert.InDelta(t, float64(time.Minute), float64(s.Max), float64(100*time.Millisecond))
}

func TestRecorderRate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder()
	r.startTime = start
	r.now = func() time.Time { return start.Add(2 * time.Second) }

	for i := 0; i < 10; i++ {
		r.Record("", time.Millisecond, time.Millisecond, nil)
	}
	r.Stop()

	s := r.Summary()
	assert.Equal(t, 2*time.Second, s.Duration)
	assert.InDelta(t, 5.0, s.RPS, 0.001)
}

func TestRecorderCheck(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 9; i++ {
		r.Record("", 10*time.Millisecond, time.Millisecond, nil)
	}
	r.Record("", 10*time.Millisecond, time.Millisecond, errors.New("boom"))

	tests := []struct {
		name       string
		thresholds Thresholds
		wantPassed []bool
	}{
		{"none", Thresholds{}, nil},
		{"p95 met", Thresholds{P95: time.Second}, []bool{true}},
		{"p95 missed", Thresholds{P95: time.Millisecond}, []bool{false}},
		{"error rate met", Thresholds{ErrorRate: 0.2}, []bool{true}},
		{"error rate missed", Thresholds{ErrorRate: 0.05}, []bool{false}},
		{"all", Thresholds{P95: time.Second, P99: time.Millisecond, ErrorRate: 0.5}, []bool{true, false, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := r.Check(tt.thresholds)
			require.Len(t, results, len(tt.wantPassed))
			for i, want := range tt.wantPassed {
				assert.Equal(t, want, results[i].Passed, results[i].Name)
			}
		})
	}

	results := r.Check(Thresholds{ErrorRate: 0.05})
	assert.Equal(t, "10%", results[0].Actual)
	assert.Equal(t, "<= 5%", results[0].Expected)
}

func TestRecorderObservesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	rec := NewRecorder()
	s := session.New(
		session.WithEngine(func(events engine.Events) engine.Engine {
			return courierhttp.New(events, courierhttp.WithTimeout(5*time.Second))
		}),
		session.WithObserver(rec),
		session.WithStartRequestsImmediately(false),
	)

	for _, path := range []string{"/a", "/b", "/missing"} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)

		done := make(chan struct{})
		r := s.Request(session.FromHTTP(req))
		r.ValidateStatusRange(200, 299)
		r.Response(func(session.DefaultResponse) { close(done) })
		r.Resume()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for response")
		}
	}

	assert.Eventually(t, func() bool { return rec.Summary().Total == 3 }, time.Second, 5*time.Millisecond)
	summary := rec.Summary()
	assert.Equal(t, int64(2), summary.Success)
	assert.Equal(t, int64(1), summary.Errors)
	require.Len(t, summary.Endpoints, 1)
	assert.Equal(t, "GET "+srv.Listener.Addr().String(), summary.Endpoints[0].Name)
}

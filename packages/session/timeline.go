package session

import (
	"fmt"
	"time"
)

// Timeline records when the phases of a request happened.
type Timeline struct {
	RequestStart           time.Time
	InitialResponse        time.Time
	RequestCompleted       time.Time
	SerializationCompleted time.Time
}

// Latency is the time from submission to the first response byte.
func (t Timeline) Latency() time.Duration {
	return t.InitialResponse.Sub(t.RequestStart)
}

// RequestDuration is the time from submission to completion.
func (t Timeline) RequestDuration() time.Duration {
	return t.RequestCompleted.Sub(t.RequestStart)
}

func (t Timeline) SerializationDuration() time.Duration {
	return t.SerializationCompleted.Sub(t.RequestCompleted)
}

func (t Timeline) TotalDuration() time.Duration {
	return t.SerializationCompleted.Sub(t.RequestStart)
}

func (t Timeline) String() string {
	return fmt.Sprintf("latency=%s request=%s serialization=%s total=%s",
		t.Latency(), t.RequestDuration(), t.SerializationDuration(), t.TotalDuration())
}

// Progress is a snapshot of a transfer. Total is -1 when unknown.
type Progress struct {
	Completed int64
	Total     int64
}

// Fraction returns the completed share, or 0 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// ProgressFunc receives progress snapshots.
type ProgressFunc func(Progress)

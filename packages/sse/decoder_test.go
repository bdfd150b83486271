package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func decode(chunks ...string) []Event {
	var events []Event
	d := NewDecoder(func(e Event) { events = append(events, e) })
	for _, c := range chunks {
		_, _ = d.Write([]byte(c))
	}
	d.Flush()
	return events
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []Event
	}{
		{
			name:   "single event",
			chunks: []string{"event: greeting\ndata: hello\n\n"},
			want:   []Event{{Type: "greeting", Data: "hello"}},
		},
		{
			name:   "default type",
			chunks: []string{"data: hi\n\n"},
			want:   []Event{{Type: "message", Data: "hi"}},
		},
		{
			name:   "multi-line data",
			chunks: []string{"data: a\ndata: b\n\n"},
			want:   []Event{{Type: "message", Data: "a\nb"}},
		},
		{
			name:   "split across chunks",
			chunks: []string{"da", "ta: hel", "lo\n", "\ndata: two\n\n"},
			want:   []Event{{Type: "message", Data: "hello"}, {Type: "message", Data: "two"}},
		},
		{
			name:   "crlf split between chunks",
			chunks: []string{"data: x\r", "\n\r\n"},
			want:   []Event{{Type: "message", Data: "x"}},
		},
		{
			name:   "comments and unknown fields",
			chunks: []string{": ping\nfoo: bar\ndata: ok\n\n"},
			want:   []Event{{Type: "message", Data: "ok"}},
		},
		{
			name:   "id carries over",
			chunks: []string{"id: 7\ndata: a\n\ndata: b\n\n"},
			want:   []Event{{ID: "7", Type: "message", Data: "a"}, {ID: "7", Type: "message", Data: "b"}},
		},
		{
			name:   "retry",
			chunks: []string{"retry: 1500\ndata: r\n\n"},
			want:   []Event{{Type: "message", Data: "r", Retry: 1500 * time.Millisecond}},
		},
		{
			name:   "no data is not dispatched",
			chunks: []string{"event: empty\n\n"},
			want:   nil,
		},
		{
			name:   "unterminated tail flushed",
			chunks: []string{"data: last"},
			want:   []Event{{Type: "message", Data: "last"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decode(tt.chunks...))
		})
	}
}

func TestLastEventID(t *testing.T) {
	d := NewDecoder(nil)
	_, _ = d.Write([]byte("id: 1\ndata: a\n\nid: 2\ndata: b\n\n"))
	assert.Equal(t, "2", d.LastEventID())
}

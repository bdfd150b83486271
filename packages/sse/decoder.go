// Package sse decodes text/event-stream bodies as they arrive.
package sse

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry time.Duration
}

// Handler receives each event in arrival order.
type Handler func(Event)

// Decoder turns body chunks into events. Chunks may split lines and events at
// any byte; partial input is buffered until its terminating blank line.
type Decoder struct {
	mu      sync.Mutex
	handler Handler
	buf     []byte
	current Event
	data    []string
	hasData bool
	lastID  string
}

// NewDecoder returns a decoder that calls h for every complete event.
func NewDecoder(h Handler) *Decoder {
	return &Decoder{handler: h}
}

// Write feeds a chunk. It never fails so it can sit behind a stream callback.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, p...)
	for {
		i := bytes.IndexAny(d.buf, "\r\n")
		if i < 0 {
			break
		}
		// A trailing \r may be the first half of \r\n; wait for more input.
		if d.buf[i] == '\r' && i == len(d.buf)-1 {
			break
		}
		line := string(d.buf[:i])
		next := i + 1
		if d.buf[i] == '\r' && d.buf[next] == '\n' {
			next++
		}
		d.buf = d.buf[next:]
		d.line(line)
	}
	return len(p), nil
}

// Flush dispatches a final event that was not followed by a blank line.
func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.buf) > 0 {
		line := strings.TrimSuffix(string(d.buf), "\r")
		d.buf = nil
		d.line(line)
	}
	d.dispatch()
}

// LastEventID is the most recent id field, suitable for a Last-Event-ID header.
func (d *Decoder) LastEventID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastID
}

func (d *Decoder) line(line string) {
	if line == "" {
		d.dispatch()
		return
	}
	if strings.HasPrefix(line, ":") {
		return
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		d.current.Type = value
	case "data":
		d.data = append(d.data, value)
		d.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			d.current.ID = value
			d.lastID = value
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			d.current.Retry = time.Duration(ms) * time.Millisecond
		}
	}
}

func (d *Decoder) dispatch() {
	if !d.hasData {
		d.current = Event{}
		return
	}
	ev := d.current
	ev.Data = strings.Join(d.data, "\n")
	if ev.Type == "" {
		ev.Type = "message"
	}
	if ev.ID == "" {
		ev.ID = d.lastID
	}
	d.current = Event{}
	d.data = nil
	d.hasData = false
	if d.handler != nil {
		d.handler(ev)
	}
}

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{EventType: EventLoginSuccess, UserID: "u1", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.EventType != EventLoginSuccess || ev.UserID != "u1" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}

	d.Close()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}

	// Nil dispatchers must be safe to use.
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, blockingSink{release})
	defer func() {
		close(release)
		d.Close()
	}()

	// The worker is stuck in the sink, so the buffer fills and Emit drops.
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: EventLoginFailure})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Emit(context.Context, Event) {
	<-s.release
}

func TestDispatcherCloseFlushesBuffer(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventLogout})
	}
	d.Close()

	if got := sink.count(); got != 10 {
		t.Fatalf("sink saw %d events, want 10", got)
	}
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) Emit(context.Context, Event) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		EventType: EventPasswordChanged,
		UserID:    "u1",
		Success:   true,
	})

	line := strings.TrimSpace(buf.String())
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("unmarshal line %q: %v", line, err)
	}
	if ev.EventType != EventPasswordChanged || ev.UserID != "u1" || !ev.Success {
		t.Fatalf("got %+v", ev)
	}
}

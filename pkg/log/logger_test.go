package log

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != r {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
	NoopLogger{}.Log(Event{})
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{ConnectionID: "1"})
	m.Log(Event{ConnectionID: "2"})

	for _, r := range []*recordingLogger{a, b} {
		if len(r.events) != 2 || r.events[1].ConnectionID != "2" {
			t.Errorf("events = %+v", r.events)
		}
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	a.Log(Event{
		ConnectionID: "abc",
		Layer:        LayerTransport,
		Category:     CategoryPacket,
		Direction:    DirectionIn,
		RemoteAddr:   "192.0.2.5:5555",
		Packet:       &PacketEvent{Type: 2, Size: 38, Truncated: true},
	})
	a.Log(Event{
		Layer:       LayerSession,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{NewState: "Failed", Reason: "Timeout"},
	})
	a.Log(Event{
		Layer:    LayerPake,
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerPake, Message: "boom", Context: "confirm"},
	})

	out := buf.String()
	for _, want := range []string{
		"conn_id=abc", "direction=IN", "packet_type=2", "truncated=true", "remote=192.0.2.5:5555",
		"new_state=Failed", "reason=Timeout",
		"error_msg=boom", "error_context=confirm",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	NewSlogAdapter(logger).Log(Event{ConnectionID: "x"})
	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %s", buf.String())
	}
}

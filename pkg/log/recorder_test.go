package log

import (
	"errors"
	"testing"
	"time"
)

func TestRecorderStampsEvents(t *testing.T) {
	mock := &mockLogger{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder(mock, "sess").WithClock(func() time.Time { return now })

	r.Record(Event{Layer: LayerSerial, Command: &CommandEvent{Line: "AT"}})

	if len(mock.events) != 1 {
		t.Fatalf("got %d events, want 1", len(mock.events))
	}
	e := mock.events[0]
	if e.SessionID != "sess" {
		t.Errorf("SessionID = %q, want sess", e.SessionID)
	}
	if !e.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, now)
	}
}

func TestRecorderRecordError(t *testing.T) {
	mock := &mockLogger{}
	r := NewRecorder(mock, "sess")

	r.RecordError(LayerCoAP, "ping", errors.New("timeout"))
	r.RecordError(LayerCoAP, "ping", nil)

	if len(mock.events) != 1 {
		t.Fatalf("got %d events, want 1", len(mock.events))
	}
	e := mock.events[0]
	if e.Category != CategoryError || e.Error == nil || e.Error.Message != "timeout" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	if NewRecorder(nil, "x") != nil {
		t.Error("NewRecorder(nil) should return nil")
	}
	r.Record(Event{})
	r.RecordError(LayerThings, "x", errors.New("y"))
	r.WithClock(time.Now)
}

package commands

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/connexthings/nbiot-go/pkg/log"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func TestFilterBySession(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, SessionID: "s-1"},
		{Timestamp: ts, SessionID: "s-2"},
		{Timestamp: ts, SessionID: "s-1"},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.cbor")

	n, err := RunFilter(path, FilterOptions{Output: outPath, Criteria: Criteria{Session: "s-1"}})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events written, got %d", n)
	}
	for _, e := range readAll(t, outPath) {
		if e.SessionID != "s-1" {
			t.Errorf("expected s-1, got %s", e.SessionID)
		}
	}
}

func TestFilterByThingAndLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerThings, ThingID: "t1"},
		{Timestamp: ts, Layer: log.LayerCoAP, ThingID: "t1"},
		{Timestamp: ts, Layer: log.LayerThings, ThingID: "t2"},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.cbor")

	n, err := RunFilter(path, FilterOptions{Output: outPath, Criteria: Criteria{Thing: "t1", Layer: "things"}})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	got := readAll(t, outPath)
	if len(got) != 1 || got[0].ThingID != "t1" || got[0].Layer != log.LayerThings {
		t.Errorf("unexpected events: %+v", got)
	}
}

func TestFilterByTimeRange(t *testing.T) {
	base := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: base},
		{Timestamp: base.Add(time.Hour)},
		{Timestamp: base.Add(2 * time.Hour)},
	}
	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "filtered.cbor")

	n, err := RunFilter(path, FilterOptions{
		Output: outPath,
		Criteria: Criteria{
			TimeStart: "2026-01-28T10:30:00Z",
			TimeEnd:   "2026-01-28T11:30:00Z",
		},
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, nil)
	out := filepath.Join(t.TempDir(), "out.cbor")

	for name, c := range map[string]Criteria{
		"time":      {TimeStart: "yesterday"},
		"layer":     {Layer: "wire"},
		"direction": {Direction: "up"},
		"category":  {Category: "snapshot"},
	} {
		if _, err := RunFilter(path, FilterOptions{Output: out, Criteria: c}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

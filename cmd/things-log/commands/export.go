package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/connexthings/nbiot-go/pkg/log"
)

// record is the flat form of an event shared by both export formats.
// Payload bytes are hex so AT and CoAP traces can be compared directly.
type record struct {
	Time      time.Time `json:"time"`
	Session   string    `json:"session,omitempty"`
	Direction string    `json:"direction"`
	Layer     string    `json:"layer"`
	Category  string    `json:"category"`
	Thing     string    `json:"thing,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	Label     string    `json:"label"`
	MessageID *uint16   `json:"mid,omitempty"`
	Token     string    `json:"token,omitempty"`
	Path      string    `json:"path,omitempty"`
	Size      *int      `json:"size,omitempty"`
	Data      string    `json:"data,omitempty"`
}

var csvHeader = []string{
	"timestamp", "session_id", "direction", "layer", "category", "thing_id",
	"remote", "type", "message_id", "token", "path", "size", "data",
}

func newRecord(event log.Event) record {
	r := record{
		Time:      event.Timestamp.UTC(),
		Session:   event.SessionID,
		Direction: event.Direction.String(),
		Layer:     event.Layer.String(),
		Category:  event.Category.String(),
		Thing:     event.ThingID,
		Remote:    event.RemoteAddr,
		Label:     eventLabel(event),
	}
	switch {
	case event.Datagram != nil:
		r.Size = &event.Datagram.Size
		r.Data = hex.EncodeToString(event.Datagram.Data)
	case event.Message != nil:
		r.MessageID = &event.Message.MessageID
		r.Token = hex.EncodeToString(event.Message.Token)
		r.Path = event.Message.Path
		size := len(event.Message.Payload)
		r.Size = &size
		r.Data = hex.EncodeToString(event.Message.Payload)
	case event.Control != nil:
		r.MessageID = &event.Control.MessageID
	case event.Command != nil:
		r.Data = event.Command.Line
	}
	return r
}

func (r record) csvRow() []string {
	row := []string{
		r.Time.Format("2006-01-02T15:04:05.000000Z"),
		r.Session, r.Direction, r.Layer, r.Category, r.Thing, r.Remote, r.Label,
		"", r.Token, r.Path, "", r.Data,
	}
	if r.MessageID != nil {
		row[8] = strconv.Itoa(int(*r.MessageID))
	}
	if r.Size != nil {
		row[11] = strconv.Itoa(*r.Size)
	}
	return row
}

// RunExport writes the capture as JSON lines or CSV to output, or to
// standard output when output is empty.
func RunExport(path, format, output string) error {
	var write func(io.Writer, *Capture) error
	switch format {
	case "jsonl":
		write = exportJSONL
	case "csv":
		write = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	capture, err := Open(path, log.Filter{})
	if err != nil {
		return err
	}
	defer capture.Close()

	if output == "" {
		return write(os.Stdout, capture)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f, capture); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(w io.Writer, capture *Capture) error {
	enc := json.NewEncoder(w)
	return capture.Each(func(event log.Event) error {
		return enc.Encode(newRecord(event))
	})
}

func exportCSV(w io.Writer, capture *Capture) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := capture.Each(func(event log.Event) error {
		return cw.Write(newRecord(event).csvRow())
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

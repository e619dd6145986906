// Package commands implements the things-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/connexthings/nbiot-go/pkg/log"
)

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	session := shortenSessionID(event.SessionID)
	dir := event.Direction.String()

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [session:%s] %-3s %s %s\n", ts, session, dir, layerStr, eventLabel(event))
	if event.ThingID != "" {
		fmt.Fprintf(w, "  Thing: %s\n", event.ThingID)
	}
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Command != nil:
		formatCommandDetails(w, event.Command)
	case event.Datagram != nil:
		formatDatagramDetails(w, event.Datagram)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.Platform != nil:
		formatPlatformDetails(w, event.Platform)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Control != nil:
		fmt.Fprintf(w, "  MessageID: %d\n", event.Control.MessageID)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// eventLabel names the payload carried by an event.
func eventLabel(event log.Event) string {
	switch {
	case event.Command != nil:
		if event.Command.Kind != "" {
			return "Response " + event.Command.Kind
		}
		return "Command"
	case event.Datagram != nil:
		return "Datagram"
	case event.Message != nil:
		return event.Message.Type + " " + event.Message.Code
	case event.Platform != nil:
		return event.Platform.Kind
	case event.StateChange != nil:
		return "State"
	case event.Control != nil:
		return event.Control.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatCommandDetails(w io.Writer, cmd *log.CommandEvent) {
	fmt.Fprintf(w, "  Line: %q\n", cmd.Line)
}

func formatDatagramDetails(w io.Writer, dg *log.DatagramEvent) {
	fmt.Fprintf(w, "  Socket: %d\n", dg.Socket)
	fmt.Fprintf(w, "  Size: %d bytes\n", dg.Size)
	if len(dg.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(dg.Data))
		if dg.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %d\n", msg.MessageID)
	if len(msg.Token) > 0 {
		fmt.Fprintf(w, "  Token: %s\n", hex.EncodeToString(msg.Token))
	}
	if msg.Path != "" {
		fmt.Fprintf(w, "  Path: %s\n", msg.Path)
	}
	if msg.Observe != nil {
		fmt.Fprintf(w, "  Observe: %d\n", *msg.Observe)
	}
	if len(msg.Payload) > 0 {
		fmt.Fprintf(w, "  Payload: %s\n", formatPayload(msg.Payload))
	}
}

// formatPayload prints text payloads as text and anything else as hex.
func formatPayload(p []byte) string {
	if utf8.Valid(p) {
		return string(p)
	}
	return hex.EncodeToString(p)
}

func formatPlatformDetails(w io.Writer, pe *log.PlatformEvent) {
	if pe.Method != "" {
		fmt.Fprintf(w, "  Method: %s\n", pe.Method)
	}
	if pe.RPCID != nil {
		fmt.Fprintf(w, "  RPC ID: %d\n", *pe.RPCID)
	}
	if pe.Status != nil {
		fmt.Fprintf(w, "  Status: %d\n", *pe.Status)
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView prints the events of a capture that match c.
func RunView(path string, c Criteria, output io.Writer) error {
	filter, err := c.Filter()
	if err != nil {
		return err
	}
	capture, err := Open(path, filter)
	if err != nil {
		return err
	}
	defer capture.Close()

	err = capture.Each(func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
	if err != nil {
		return err
	}
	if capture.Truncated() {
		fmt.Fprintln(output, "-- capture ends with a truncated record --")
	}
	return nil
}

package modem

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakePort serves scripted modem output and records written commands.
// An empty rx buffer reads as io.EOF, which the frame reader treats as
// "no data yet".
type fakePort struct {
	rx bytes.Buffer
	tx bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.rx.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.tx.Write(b) }

// script appends framed records to the port's receive buffer.
func (p *fakePort) script(records ...string) {
	for _, r := range records {
		p.rx.WriteString("\r\n" + r + "\r\n")
	}
}

// commands returns the command lines written so far.
func (p *fakePort) commands() []string {
	s := strings.TrimSuffix(p.tx.String(), "\r")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\r")
}

// fakeClock advances by step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestModem() (*Modem, *fakePort) {
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.Now = newFakeClock().Now
	return New(port, cfg), port
}

func TestWriteCommandAppendsCR(t *testing.T) {
	m, port := newTestModem()
	if err := m.WriteCommand("AT+CSQ"); err != nil {
		t.Fatalf("WriteCommand failed: %v", err)
	}
	if got := port.tx.String(); got != "AT+CSQ\r" {
		t.Errorf("wrote %q, want %q", got, "AT+CSQ\r")
	}
}

func TestReadSimpleData(t *testing.T) {
	tests := []struct {
		name    string
		records []string
		want    string
		wantErr error
	}{
		{"data then ok", []string{"Quectel", "OK"}, "Quectel", nil},
		{"ok only", []string{"OK"}, "", ErrMalformedResponse},
		{"data then error", []string{"Quectel", "ERROR"}, "", ErrModem},
		{"cme error", []string{"+CME ERROR: 4"}, "", ErrModem},
		{"data then nothing", []string{"Quectel"}, "", ErrTimeout},
		{"nothing", nil, "", ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, port := newTestModem()
			port.script(tt.records...)

			got, err := m.ReadSimpleData(DefaultReadTimeout)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrorCarriesCode(t *testing.T) {
	m, port := newTestModem()
	port.script("+CME ERROR: 159")

	err := m.SetErrorResponseFormat(1)
	ce, ok := err.(*CommandError)
	if !ok {
		t.Fatalf("err = %T %v, want *CommandError", err, err)
	}
	if ce.Code != "159" {
		t.Errorf("Code = %q, want 159", ce.Code)
	}
	if ce.Command != "AT+CMEE=1" {
		t.Errorf("Command = %q, want AT+CMEE=1", ce.Command)
	}
}

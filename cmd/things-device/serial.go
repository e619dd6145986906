package main

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// portReadTimeout makes Read return promptly with no data, which is what
// the modem's frame reader expects from its port.
const portReadTimeout = 10 * time.Millisecond

func openSerial(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(portReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	return port, nil
}

// dtrResetLine drives the modem reset input from DTR.
type dtrResetLine struct {
	port serial.Port
}

func (r *dtrResetLine) Pulse(d time.Duration) error {
	if err := r.port.SetDTR(true); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	time.Sleep(d)
	if err := r.port.SetDTR(false); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}

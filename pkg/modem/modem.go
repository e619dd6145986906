package modem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/connexthings/nbiot-go/pkg/metrics"
)

// Default timeouts.
const (
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultCFUNTimeout   = 10 * time.Second
	DefaultPingTimeout   = 5 * time.Second
	DefaultRebootTimeout = 10 * time.Second
)

// Modem errors.
var (
	// ErrTimeout indicates no complete response record arrived in time.
	// Overflowed records are dropped and also end in a timeout.
	ErrTimeout = errors.New("modem: response timeout")

	// ErrModem indicates the modem answered ERROR or +CME ERROR.
	ErrModem = errors.New("modem: command failed")

	// ErrMalformedResponse indicates a response that could not be parsed or
	// arrived out of sequence.
	ErrMalformedResponse = errors.New("modem: malformed response")

	// ErrShortWrite indicates the modem accepted fewer bytes than were sent.
	ErrShortWrite = errors.New("modem: short write")

	// ErrPayloadTooLarge indicates a datagram over MaxDatagramSize.
	ErrPayloadTooLarge = errors.New("modem: payload too large")
)

// CommandError is returned when the modem rejects a command.
// Code holds the +CME ERROR code, or "ERROR" for a bare ERROR record.
type CommandError struct {
	Command string
	Code    string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("modem: %s failed: %s", e.Command, e.Code)
}

// Unwrap lets errors.Is(err, ErrModem) match.
func (e *CommandError) Unwrap() error {
	return ErrModem
}

// Config configures a Modem.
type Config struct {
	// ReadTimeout is the inactivity budget for ordinary responses.
	ReadTimeout time.Duration

	// MaxResponseSize bounds one response record.
	MaxResponseSize int

	// Logger for operational debug output. Nil disables logging.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// DefaultConfig returns the standard modem settings.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     DefaultReadTimeout,
		MaxResponseSize: DefaultMaxPayloadSize,
	}
}

// Modem issues AT commands over a serial port.
//
// A Modem is not safe for concurrent use. It owns the port exclusively.
type Modem struct {
	w       io.Writer
	frames  *FrameReader
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	rec     *log.Recorder
}

// New creates a Modem on port. port.Read must return promptly when no data
// is available.
func New(port io.ReadWriter, config Config) *Modem {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultMaxPayloadSize
	}

	frames := NewFrameReaderWithMaxSize(port, config.MaxResponseSize)
	if config.Now != nil {
		frames.SetClock(config.Now)
	}

	return &Modem{
		w:       port,
		frames:  frames,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
}

// SetLogger configures protocol capture for this modem.
// Pass nil to disable capture.
func (m *Modem) SetLogger(logger log.Logger, sessionID string) {
	m.rec = log.NewRecorder(logger, sessionID)
	if m.rec != nil && m.config.Now != nil {
		m.rec.WithClock(m.config.Now)
	}
}

// Recorder returns the capture recorder, or nil when capture is off.
func (m *Modem) Recorder() *log.Recorder {
	return m.rec
}

// ReadTimeout returns the configured default response timeout.
func (m *Modem) ReadTimeout() time.Duration {
	return m.config.ReadTimeout
}

// WriteCommand sends one command line terminated by \r.
func (m *Modem) WriteCommand(cmd string) error {
	if _, err := io.WriteString(m.w, cmd+"\r"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	m.rec.Record(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerSerial,
		Category:  log.CategoryMessage,
		Command:   &log.CommandEvent{Line: cmd},
	})
	return nil
}

// ReadResponse reads the next response record. A timeout is reported as a
// record of type ResponseTimeout, not as an error.
func (m *Modem) ReadResponse(timeout time.Duration) (Response, error) {
	rsp, err := m.frames.ReadResponse(timeout)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	m.metrics.ModemResponse(rsp.Type.String())
	if rsp.Type != ResponseTimeout {
		m.rec.Record(log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerSerial,
			Category:  log.CategoryMessage,
			Command:   &log.CommandEvent{Line: rsp.Payload, Kind: rsp.Type.String()},
		})
	}
	return rsp, nil
}

// WaitForOK reads one record and requires it to be OK.
func (m *Modem) WaitForOK(timeout time.Duration) error {
	rsp, err := m.ReadResponse(timeout)
	if err != nil {
		return err
	}
	return expect(rsp, ResponseOK, "")
}

// ReadSimpleData reads a DATA record immediately followed by OK and returns
// the DATA payload.
func (m *Modem) ReadSimpleData(timeout time.Duration) (string, error) {
	rsp, err := m.ReadResponse(timeout)
	if err != nil {
		return "", err
	}
	if err := expect(rsp, ResponseData, ""); err != nil {
		return "", err
	}
	if err := m.WaitForOK(timeout); err != nil {
		return "", err
	}
	return rsp.Payload, nil
}

// Purge discards any unread bytes from the port.
func (m *Modem) Purge() error {
	return m.frames.Purge()
}

// exec sends cmd and waits for OK.
func (m *Modem) exec(cmd string) error {
	return m.execTimeout(cmd, m.config.ReadTimeout)
}

func (m *Modem) execTimeout(cmd string, timeout time.Duration) error {
	if err := m.WriteCommand(cmd); err != nil {
		return err
	}
	return annotate(cmd, m.WaitForOK(timeout))
}

// query sends cmd and returns the DATA line of a DATA/OK pair.
func (m *Modem) query(cmd string) (string, error) {
	if err := m.WriteCommand(cmd); err != nil {
		return "", err
	}
	data, err := m.ReadSimpleData(m.config.ReadTimeout)
	return data, annotate(cmd, err)
}

func (m *Modem) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

// expect maps a record onto the error taxonomy.
func expect(rsp Response, want ResponseType, cmd string) error {
	switch rsp.Type {
	case want:
		return nil
	case ResponseTimeout:
		return ErrTimeout
	case ResponseError:
		return &CommandError{Command: cmd, Code: rsp.Payload}
	default:
		return fmt.Errorf("%w: got %s %q, want %s", ErrMalformedResponse, rsp.Type, rsp.Payload, want)
	}
}

// annotate fills in the command name on a CommandError and prefixes other
// errors with the command.
func annotate(cmd string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		if ce.Command == "" {
			ce.Command = cmd
		}
		return ce
	}
	return fmt.Errorf("%s: %w", cmd, err)
}

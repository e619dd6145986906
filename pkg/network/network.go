package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexthings/nbiot-go/pkg/modem"
)

// Initialisation errors.
var (
	ErrModemUnresponsive = errors.New("modem unresponsive")
	ErrNotRegistered     = errors.New("network registration timeout")
)

// Defaults for network bring-up.
const (
	DefaultResetPulse       = 100 * time.Millisecond
	DefaultResetTimeout     = 10 * time.Second
	DefaultInitTimeout      = 2 * time.Minute
	DefaultPollInterval     = 1 * time.Second
	DefaultSettleDelay      = 3 * time.Second
	DefaultPurgeDelay       = 100 * time.Millisecond
	DefaultLocalPort uint16 = 56830
)

// Modem is the part of the modem command set used during bring-up.
// *modem.Modem implements it.
type Modem interface {
	Ping() error
	WriteCommand(cmd string) error
	Purge() error
	SetErrorResponseFormat(n int) error
	ConfigAutoConnect(enabled bool) error
	RegistrationStatus() modem.NetworkStatus
	CreateSocket(port uint16, receive bool) (int, error)
	ReadIMEI() (string, error)
	ReadIMSI() (string, error)
	ReadSignalQuality() (modem.SignalQuality, error)
	ReadPDPAddress(cid int) (modem.PDPAddress, error)
}

// ResetLine drives the modem's hardware reset input.
type ResetLine interface {
	// Pulse asserts reset for d and releases it.
	Pulse(d time.Duration) error
}

// NopResetLine is a ResetLine for modems without a wired reset input.
type NopResetLine struct{}

// Pulse does nothing.
func (NopResetLine) Pulse(time.Duration) error { return nil }

// Config holds initialisation settings.
type Config struct {
	ResetPulse   time.Duration
	ResetTimeout time.Duration
	InitTimeout  time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
	LocalPort    uint16

	// Verbose dumps modem and network information at debug level.
	Verbose bool

	// Logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger

	// Now and Sleep override the clock. Used by tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the standard bring-up settings.
func DefaultConfig() Config {
	return Config{
		ResetPulse:   DefaultResetPulse,
		ResetTimeout: DefaultResetTimeout,
		InitTimeout:  DefaultInitTimeout,
		PollInterval: DefaultPollInterval,
		SettleDelay:  DefaultSettleDelay,
		LocalPort:    DefaultLocalPort,
	}
}

// Initializer performs network bring-up.
type Initializer struct {
	modem  Modem
	reset  ResetLine
	config Config
}

// NewInitializer creates an Initializer. A nil reset line is replaced by
// NopResetLine; zero config values fall back to the defaults.
func NewInitializer(m Modem, reset ResetLine, cfg Config) *Initializer {
	def := DefaultConfig()
	if reset == nil {
		reset = NopResetLine{}
	}
	if cfg.ResetPulse <= 0 {
		cfg.ResetPulse = def.ResetPulse
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.LocalPort == 0 {
		cfg.LocalPort = def.LocalPort
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Initializer{modem: m, reset: reset, config: cfg}
}

// Init resets the modem, waits for registration and creates the default
// socket. It returns the socket handle.
func (in *Initializer) Init(ctx context.Context) (int, error) {
	start := in.config.Now()

	in.debugLog("network: resetting modem")
	if err := in.resetModem(ctx); err != nil {
		return -1, err
	}

	if in.config.Verbose {
		in.dumpModemInfo()
	}

	in.debugLog("network: waiting for registration")
	for !in.IsNetworkReady() {
		if in.config.Now().Sub(start) >= in.config.InitTimeout {
			return -1, fmt.Errorf("%w after %v", ErrNotRegistered, in.config.InitTimeout)
		}
		if err := in.config.Sleep(ctx, in.config.PollInterval); err != nil {
			return -1, err
		}
	}

	// The modem reports registered before it accepts socket commands.
	if err := in.config.Sleep(ctx, in.config.SettleDelay); err != nil {
		return -1, err
	}

	if in.config.Verbose {
		in.dumpNetworkInfo()
	}

	socket, err := in.modem.CreateSocket(in.config.LocalPort, true)
	if err != nil {
		return -1, fmt.Errorf("create default socket: %w", err)
	}
	in.debugLog("network: ready", "socket", socket, "localPort", in.config.LocalPort)
	return socket, nil
}

// IsNetworkReady reports whether the modem is registered on its home network.
func (in *Initializer) IsNetworkReady() bool {
	return in.modem.RegistrationStatus() == modem.StatusRegistered
}

func (in *Initializer) resetModem(ctx context.Context) error {
	if err := in.reset.Pulse(in.config.ResetPulse); err != nil {
		return fmt.Errorf("reset modem: %w", err)
	}

	start := in.config.Now()
	for {
		err := in.modem.Ping()
		if err == nil {
			break
		}
		if in.config.Now().Sub(start) > in.config.ResetTimeout {
			return fmt.Errorf("%w: %w", ErrModemUnresponsive, err)
		}

		// Flush half-written commands and whatever the modem echoed.
		if err := in.modem.WriteCommand("\r\r"); err != nil {
			return err
		}
		if err := in.config.Sleep(ctx, DefaultPurgeDelay); err != nil {
			return err
		}
		if err := in.modem.Purge(); err != nil {
			return err
		}
	}

	if err := in.modem.SetErrorResponseFormat(0); err != nil {
		return fmt.Errorf("configure modem: %w", err)
	}
	if err := in.modem.ConfigAutoConnect(true); err != nil {
		return fmt.Errorf("configure modem: %w", err)
	}
	return nil
}

func (in *Initializer) dumpModemInfo() {
	if imei, err := in.modem.ReadIMEI(); err == nil {
		in.debugLog("network: modem", "imei", imei)
	}
	if imsi, err := in.modem.ReadIMSI(); err == nil {
		in.debugLog("network: modem", "imsi", imsi)
	}
}

func (in *Initializer) dumpNetworkInfo() {
	if csq, err := in.modem.ReadSignalQuality(); err == nil && csq.Known() {
		in.debugLog("network: signal", "rssi_dbm", csq.DBm())
	}
	if addr, err := in.modem.ReadPDPAddress(0); err == nil {
		in.debugLog("network: pdp address", "addr", addr.Addr.String())
	}
}

func (in *Initializer) debugLog(msg string, args ...any) {
	if in.config.Logger != nil {
		in.config.Logger.Debug(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package config loads device settings from a YAML file with an environment
// overlay.
//
// Every scalar setting can be overridden by an environment variable named
// THINGS_<SECTION>_<KEY>, for example THINGS_SERIAL_PORT or
// THINGS_WATCHDOG_INTERVALS=5m,1m,1m,1m. The thing list is only read from
// the file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/modem"
	"github.com/connexthings/nbiot-go/pkg/network"
	"github.com/connexthings/nbiot-go/pkg/things"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "THINGS_"

// Firmware defaults.
const (
	DefaultSerialPort      = "/dev/ttyUSB0"
	DefaultBaudRate        = 9600
	DefaultPlatformHost    = "52.220.84.189"
	DefaultPlatformPort    = 5683
	DefaultRenewalInterval = 15 * time.Second
	DefaultDuplicateWindow = 10
	DefaultDuplicateExpiry = 30 * time.Second

	// DefaultProtocolLogMaxSize rotates the capture file at 8 MiB.
	DefaultProtocolLogMaxSize = 8 << 20
)

// Config is the complete device configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Platform PlatformConfig `yaml:"platform"`
	Network  NetworkConfig  `yaml:"network"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	CoAP     CoAPConfig     `yaml:"coap"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	State    StateConfig    `yaml:"state"`
	Things   []ThingConfig  `yaml:"things"`
}

// SerialConfig describes the modem UART.
type SerialConfig struct {
	Port        string        `yaml:"port"         env:"PORT"`
	BaudRate    int           `yaml:"baud_rate"    env:"BAUD_RATE"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`

	// ResetDTR pulses DTR to reset the modem. When false the reset step
	// is skipped.
	ResetDTR bool `yaml:"reset_dtr" env:"RESET_DTR"`
}

// PlatformConfig is the CoAP endpoint of the Things platform.
type PlatformConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port uint16 `yaml:"port" env:"PORT"`
}

// NetworkConfig controls modem bring-up.
type NetworkConfig struct {
	LocalPort      uint16        `yaml:"local_port"       env:"LOCAL_PORT"`
	ResetTimeout   time.Duration `yaml:"reset_timeout"    env:"RESET_TIMEOUT"`
	InitTimeout    time.Duration `yaml:"init_timeout"     env:"INIT_TIMEOUT"`
	MaxInitRetries int           `yaml:"max_init_retries" env:"MAX_INIT_RETRIES"`
	InitRetryDelay time.Duration `yaml:"init_retry_delay" env:"INIT_RETRY_DELAY"`
	Verbose        bool          `yaml:"verbose"          env:"VERBOSE"`
}

// WatchdogConfig controls the connectivity check.
type WatchdogConfig struct {
	Intervals   []time.Duration `yaml:"intervals"    env:"INTERVALS"`
	PingTimeout time.Duration   `yaml:"ping_timeout" env:"PING_TIMEOUT"`
}

// CoAPConfig bounds messages and duplicate detection.
type CoAPConfig struct {
	MaxDatagramSize int           `yaml:"max_datagram_size" env:"MAX_DATAGRAM_SIZE"`
	MaxPayloadSize  int           `yaml:"max_payload_size"  env:"MAX_PAYLOAD_SIZE"`
	DuplicateWindow int           `yaml:"duplicate_window"  env:"DUPLICATE_WINDOW"`
	DuplicateExpiry time.Duration `yaml:"duplicate_expiry"  env:"DUPLICATE_EXPIRY"`
}

// LogConfig selects operational and protocol logging.
type LogConfig struct {
	Level       string `yaml:"level"        env:"LEVEL"`
	Format      string `yaml:"format"       env:"FORMAT"`
	ProtocolLog string `yaml:"protocol_log" env:"PROTOCOL_LOG"`

	// ProtocolLogMaxSize rotates the capture file, in bytes. 0 never rotates.
	ProtocolLogMaxSize int64 `yaml:"protocol_log_max_size" env:"PROTOCOL_LOG_MAX_SIZE"`
}

// StateConfig names the file that keeps observe tokens across restarts.
// An empty File disables persistence.
type StateConfig struct {
	File string `yaml:"file" env:"FILE"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// ThingConfig is one thing as written in the file. Tokens are optional
// 8-digit hex strings.
type ThingConfig struct {
	ID                 string         `yaml:"id"`
	Name               string         `yaml:"name"`
	AuthToken          string         `yaml:"auth_token"`
	SharedAttrRenewal  *time.Duration `yaml:"shared_attr_renewal"`
	IncomingRPCRenewal *time.Duration `yaml:"incoming_rpc_renewal"`
	SharedAttrToken    string         `yaml:"shared_attr_token"`
	IncomingRPCToken   string         `yaml:"incoming_rpc_token"`
}

// Default returns the firmware defaults with no things.
func Default() Config {
	return Config{
		Serial: SerialConfig{
			Port:        DefaultSerialPort,
			BaudRate:    DefaultBaudRate,
			ReadTimeout: modem.DefaultReadTimeout,
			ResetDTR:    true,
		},
		Platform: PlatformConfig{
			Host: DefaultPlatformHost,
			Port: DefaultPlatformPort,
		},
		Network: NetworkConfig{
			LocalPort:      network.DefaultLocalPort,
			ResetTimeout:   network.DefaultResetTimeout,
			InitTimeout:    network.DefaultInitTimeout,
			MaxInitRetries: connection.DefaultMaxInitRetries,
			InitRetryDelay: connection.DefaultInitRetryDelay,
		},
		Watchdog: WatchdogConfig{
			Intervals:   connection.DefaultIntervals(),
			PingTimeout: connection.DefaultPingTimeout,
		},
		CoAP: CoAPConfig{
			MaxDatagramSize: coap.DefaultReceiveBufferSize,
			MaxPayloadSize:  things.DefaultMaxPayloadSize,
			DuplicateWindow: DefaultDuplicateWindow,
			DuplicateExpiry: DefaultDuplicateExpiry,
		},
		Log: LogConfig{
			Level:              "info",
			Format:             "text",
			ProtocolLogMaxSize: DefaultProtocolLogMaxSize,
		},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path yields the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
		}
		if err := cfg.parse(data); err != nil {
			return nil, &LoadError{File: path, Message: "failed to parse YAML", Cause: err}
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, &LoadError{File: path, Message: "failed to apply environment", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{File: path, Message: "invalid configuration", Cause: err}
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parse(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// ApplyEnv overlays THINGS_* environment variables. Unset variables leave
// the current values alone.
func (c *Config) ApplyEnv() error {
	sections := []struct {
		prefix string
		target any
	}{
		{"SERIAL_", &c.Serial},
		{"PLATFORM_", &c.Platform},
		{"NETWORK_", &c.Network},
		{"WATCHDOG_", &c.Watchdog},
		{"COAP_", &c.CoAP},
		{"LOG_", &c.Log},
		{"METRICS_", &c.Metrics},
		{"STATE_", &c.State},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return err
		}
	}
	return nil
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalid
}

// Validate checks the whole configuration and reports every problem.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Serial.Port == "" {
		add("serial.port", "required")
	}
	if c.Serial.BaudRate <= 0 {
		add("serial.baud_rate", "must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Platform.Host == "" {
		add("platform.host", "required")
	} else if modem.ParseIPv4(c.Platform.Host) == 0 {
		add("platform.host", "must be a dotted IPv4 address, got %q", c.Platform.Host)
	}
	if c.Platform.Port == 0 {
		add("platform.port", "required")
	}
	if c.Network.MaxInitRetries <= 0 {
		add("network.max_init_retries", "must be positive, got %d", c.Network.MaxInitRetries)
	}
	if c.Network.InitTimeout <= 0 {
		add("network.init_timeout", "must be positive")
	}
	if len(c.Watchdog.Intervals) == 0 {
		add("watchdog.intervals", "at least one interval is required")
	}
	for i, d := range c.Watchdog.Intervals {
		if d <= 0 {
			add(fmt.Sprintf("watchdog.intervals[%d]", i), "must be positive, got %v", d)
		}
	}
	if c.CoAP.MaxDatagramSize <= 0 || c.CoAP.MaxDatagramSize > modem.MaxDatagramSize {
		add("coap.max_datagram_size", "must be in 1..%d, got %d", modem.MaxDatagramSize, c.CoAP.MaxDatagramSize)
	}
	if c.CoAP.MaxPayloadSize <= 0 {
		add("coap.max_payload_size", "must be positive, got %d", c.CoAP.MaxPayloadSize)
	}
	if c.CoAP.DuplicateWindow <= 0 {
		add("coap.duplicate_window", "must be positive, got %d", c.CoAP.DuplicateWindow)
	}
	if c.Log.ProtocolLogMaxSize < 0 {
		add("log.protocol_log_max_size", "must not be negative")
	}

	if len(c.Things) == 0 {
		add("things", "at least one thing is required")
	}
	seen := make(map[string]bool, len(c.Things))
	for i, t := range c.Things {
		field := fmt.Sprintf("things[%d]", i)
		if t.ID == "" {
			add(field+".id", "required")
		} else if seen[t.ID] {
			add(field+".id", "duplicate %q", t.ID)
		}
		seen[t.ID] = true
		if t.AuthToken == "" {
			add(field+".auth_token", "required")
		}
		if t.SharedAttrRenewal != nil && *t.SharedAttrRenewal < 0 {
			add(field+".shared_attr_renewal", "must not be negative")
		}
		if t.IncomingRPCRenewal != nil && *t.IncomingRPCRenewal < 0 {
			add(field+".incoming_rpc_renewal", "must not be negative")
		}
		if _, err := parseToken(t.SharedAttrToken); err != nil {
			add(field+".shared_attr_token", "%v", err)
		}
		if _, err := parseToken(t.IncomingRPCToken); err != nil {
			add(field+".incoming_rpc_token", "%v", err)
		}
	}

	return errors.Join(errs...)
}

// parseToken decodes an optional hex token. The empty string is the zero
// token.
func parseToken(s string) (coap.Token, error) {
	var tok coap.Token
	if s == "" {
		return tok, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return tok, fmt.Errorf("not hex: %q", s)
	}
	if len(b) != coap.TokenLength {
		return tok, fmt.Errorf("must be %d bytes, got %d", coap.TokenLength, len(b))
	}
	copy(tok[:], b)
	return tok, nil
}

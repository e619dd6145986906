package config

import (
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/modem"
	"github.com/connexthings/nbiot-go/pkg/network"
	"github.com/connexthings/nbiot-go/pkg/things"
)

// The methods below translate the file layout into component configs.
// Loggers, metrics and clocks are left for the caller to fill in.

// ModemConfig returns the AT command layer settings.
func (c *Config) ModemConfig() modem.Config {
	cfg := modem.DefaultConfig()
	cfg.ReadTimeout = c.Serial.ReadTimeout
	return cfg
}

// EndpointConfig returns the CoAP endpoint settings.
func (c *Config) EndpointConfig() coap.Config {
	return coap.Config{
		RemoteAddr:            c.Platform.Host,
		RemotePort:            c.Platform.Port,
		ReceiveBufferSize:     c.CoAP.MaxDatagramSize,
		DuplicateWindowSize:   c.CoAP.DuplicateWindow,
		DuplicateWindowExpiry: c.CoAP.DuplicateExpiry,
	}
}

// NetworkConfig returns the bring-up settings.
func (c *Config) NetworkConfig() network.Config {
	cfg := network.DefaultConfig()
	cfg.LocalPort = c.Network.LocalPort
	cfg.ResetTimeout = c.Network.ResetTimeout
	cfg.InitTimeout = c.Network.InitTimeout
	cfg.Verbose = c.Network.Verbose
	return cfg
}

// WatchdogConfig returns the connectivity watchdog settings.
func (c *Config) WatchdogConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.Intervals = append([]time.Duration(nil), c.Watchdog.Intervals...)
	cfg.PingTimeout = c.Watchdog.PingTimeout
	cfg.MaxInitRetries = c.Network.MaxInitRetries
	cfg.InitRetryDelay = c.Network.InitRetryDelay
	return cfg
}

// EngineConfig returns the correlation engine settings.
func (c *Config) EngineConfig() things.Config {
	cfg := things.DefaultConfig()
	cfg.MaxPayloadSize = c.CoAP.MaxPayloadSize
	cfg.Watchdog = c.WatchdogConfig()
	return cfg
}

// ThingConfigs returns the registry entries. Renewal intervals missing
// from the file get DefaultRenewalInterval. An explicit 0 disables one.
func (c *Config) ThingConfigs() ([]things.ThingConfig, error) {
	out := make([]things.ThingConfig, 0, len(c.Things))
	for _, t := range c.Things {
		shared, err := parseToken(t.SharedAttrToken)
		if err != nil {
			return nil, err
		}
		rpc, err := parseToken(t.IncomingRPCToken)
		if err != nil {
			return nil, err
		}
		out = append(out, things.ThingConfig{
			ID:                 t.ID,
			Name:               t.Name,
			AuthToken:          t.AuthToken,
			SharedAttrRenewal:  orDefault(t.SharedAttrRenewal),
			IncomingRPCRenewal: orDefault(t.IncomingRPCRenewal),
			SharedAttrToken:    shared,
			IncomingRPCToken:   rpc,
		})
	}
	return out, nil
}

func orDefault(d *time.Duration) time.Duration {
	if d == nil {
		return DefaultRenewalInterval
	}
	return *d
}

// Command things-device runs the NB-IoT device stack against a modem on a
// serial port and keeps the configured things connected to the Things
// platform.
//
// Usage:
//
//	things-device [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-log-format string    Log format: text, json (default "text")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-metrics-addr string  Serve Prometheus metrics on this address
//	-interactive          Run the interactive console
//	-tick duration        Engine tick period (default 50ms)
//
// Every setting of the configuration file can also be given as a THINGS_*
// environment variable, optionally from a .env file in the working
// directory.
//
// Examples:
//
//	# Run with a config file and a protocol capture
//	things-device -config /etc/things/device.yaml -protocol-log /var/log/things.cbor
//
//	# Run interactively with debug output
//	things-device -config device.yaml -interactive -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/connexthings/nbiot-go/cmd/things-device/interactive"
	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/config"
	"github.com/connexthings/nbiot-go/pkg/connection"
	thingslog "github.com/connexthings/nbiot-go/pkg/log"
	"github.com/connexthings/nbiot-go/pkg/metrics"
	"github.com/connexthings/nbiot-go/pkg/modem"
	"github.com/connexthings/nbiot-go/pkg/network"
	"github.com/connexthings/nbiot-go/pkg/persistence"
	"github.com/connexthings/nbiot-go/pkg/things"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "", "Log format: text, json")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	interact    = flag.Bool("interactive", false, "Run the interactive console")
	tick        = flag.Duration("tick", 50*time.Millisecond, "Engine tick period")
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env not loaded: %v\n", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "protocol-log":
			cfg.Log.ProtocolLog = *protocolLog
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var console *interactive.Console
	logOut := io.Writer(os.Stdout)
	if *interact {
		console = interactive.New(os.Stdout)
		if err := console.Open(); err != nil {
			return err
		}
		logOut = console.Stdout()
	}
	logger := setupLogger(logOut, cfg.Log.Level, cfg.Log.Format)

	capture, closeCapture, err := setupCapture(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCapture()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "things")

	port, err := openSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	modemCfg := cfg.ModemConfig()
	modemCfg.Logger = logger
	modemCfg.Metrics = m
	mdm := modem.New(port, modemCfg)

	epCfg := cfg.EndpointConfig()
	epCfg.MessageIDs = coap.NewRandomMessageIDs()
	epCfg.Logger = logger
	epCfg.Metrics = m
	endpoint := coap.NewEndpoint(mdm, -1, epCfg)

	var reset network.ResetLine = network.NopResetLine{}
	if cfg.Serial.ResetDTR {
		reset = &dtrResetLine{port: port}
	}
	netCfg := cfg.NetworkConfig()
	netCfg.Logger = logger
	initializer := network.NewInitializer(mdm, reset, netCfg)

	thingCfgs, err := cfg.ThingConfigs()
	if err != nil {
		return err
	}
	registry, err := openRegistry(cfg.State.File, thingCfgs, logger)
	if err != nil {
		return err
	}

	engCfg := cfg.EngineConfig()
	engCfg.Logger = logger
	engCfg.Capture = capture
	engCfg.Capturers = []things.Capturer{mdm}
	engCfg.Metrics = m
	engine := things.NewEngine(registry, endpoint, initializer, engCfg)
	engine.OnEvent(func(ev things.Event) {
		logger.Info("platform event",
			slog.String("kind", ev.Kind.String()),
			slog.String("thing", ev.Thing.Name()))
	})
	engine.OnCommand(handleCommand)

	logger.Info("things-device starting",
		slog.String("port", cfg.Serial.Port),
		slog.Int("baud", cfg.Serial.BaudRate),
		slog.String("platform", fmt.Sprintf("%s:%d", cfg.Platform.Host, cfg.Platform.Port)),
		slog.Int("things", registry.Len()))

	loop := newLoop(engine, *tick, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if console != nil {
		console.Attach(engine, loop.Exec)
		g.Go(func() error {
			console.Run(ctx, cancel)
			return nil
		})
	}

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	err = g.Wait()
	if errors.Is(err, connection.ErrNetworkUnrecoverable) {
		logger.Error("network unrecoverable, restart required", slog.String("error", err.Error()))
		return err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("things-device stopped")
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setupCapture combines the protocol file and the operational log into one
// capture logger. The operational log shows every event at debug level and
// protocol errors otherwise.
func setupCapture(cfg *config.Config, logger *slog.Logger) (thingslog.Logger, func(), error) {
	var loggers []thingslog.Logger
	closer := func() {}

	if cfg.Log.ProtocolLog != "" {
		fl, err := thingslog.NewFileLoggerWithConfig(cfg.Log.ProtocolLog, thingslog.FileLoggerConfig{
			MaxSize: cfg.Log.ProtocolLogMaxSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create protocol logger: %w", err)
		}
		loggers = append(loggers, fl)
		closer = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol events dropped", "count", n)
			}
			_ = fl.Close()
		}
		logger.Info("protocol logging", slog.String("file", cfg.Log.ProtocolLog))
	}
	loggers = append(loggers, thingslog.NewSlogAdapter(logger))

	return thingslog.Combine(loggers...), closer, nil
}

// handleCommand answers the RPC methods the device supports besides ping.
func handleCommand(thing *things.Thing, req things.RPCRequest, rsp *things.CommandResponse) {
	switch req.Method {
	case "getTime":
		_ = rsp.Send(time.Now().UTC().Format(time.RFC3339))
	case "echo":
		_ = rsp.Send(req.Params)
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

// openRegistry creates the registry with observe tokens restored from the
// state file, then saves the tokens now in use.
func openRegistry(stateFile string, configs []things.ThingConfig, logger *slog.Logger) (*things.Registry, error) {
	if stateFile == "" {
		return things.NewRegistry(nil, configs...)
	}

	store := persistence.NewDeviceStateStore(stateFile)
	state, err := store.Load()
	if err != nil {
		// Without saved tokens stale notifications are dropped until renewal.
		logger.Warn("ignoring device state", "file", stateFile, "error", err)
		state = nil
	}
	n, err := state.Restore(configs)
	if err != nil {
		logger.Warn("device state partly restored", "file", stateFile, "error", err)
	}
	if n > 0 {
		logger.Info("restored observe tokens", "count", n, "file", stateFile)
	}

	registry, err := things.NewRegistry(nil, configs...)
	if err != nil {
		return nil, err
	}
	if err := store.Save(persistence.Snapshot(registry)); err != nil {
		return nil, fmt.Errorf("save device state: %w", err)
	}
	return registry, nil
}

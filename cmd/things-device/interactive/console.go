// Package interactive provides the interactive command-line interface
// for things-device.
package interactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/connexthings/nbiot-go/pkg/things"
)

// Engine is the part of the correlation engine the console drives.
type Engine interface {
	Registry() *things.Registry
	ThingByID(id string) *things.Thing
	ThingByName(name string) *things.Thing
	SendTelemetry(thing *things.Thing, body any) error
	WriteClientAttributes(thing *things.Thing, attrs any) error
	ReadClientAttributes(thing *things.Thing, keys ...string) error
	ReadSharedAttributes(thing *things.Thing, keys ...string) error
	SendRPC(thing *things.Thing, method string, params any) error
	Stats() things.Stats
}

// Executor runs fn where the engine may be used. It returns false when
// fn could not run.
type Executor func(fn func()) bool

// Console handles interactive mode for things-device.
type Console struct {
	engine  Engine
	exec    Executor
	out     io.Writer
	rl      *readline.Instance
	current *things.Thing
}

// New creates a console writing to out.
func New(out io.Writer) *Console {
	return &Console{out: out}
}

// Open attaches the console to the terminal.
func (c *Console) Open() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "things> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	return nil
}

// Stdout returns a writer that coordinates with the readline prompt. Use
// it for log output.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Attach connects the console to an engine. Commands run through exec.
func (c *Console) Attach(engine Engine, exec Executor) {
	c.engine = engine
	c.exec = exec
	if list := engine.Registry().Things(); len(list) > 0 {
		c.current = list[0]
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	go func() {
		<-ctx.Done()
		_ = c.rl.Close()
	}()

	c.printHelp()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(c.out, "Exiting...")
				cancel()
			}
			return
		}
		if !c.Execute(line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false after quit.
func (c *Console) Execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "telemetry", "t":
		c.cmdTelemetry(args)
	case "attributes", "a":
		c.cmdAttributes(args)
	case "read-client", "rc":
		c.cmdReadClient(args)
	case "read-shared", "rs":
		c.cmdReadShared(args)
	case "rpc":
		c.cmdRPC(args)
	case "thing":
		c.cmdThing(args)
	case "status", "s":
		c.cmdStatus()
	case "info", "i":
		c.cmdInfo()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Things Device Commands:
  Platform:
    telemetry <json>       - Send telemetry for the current thing
    attributes <json>      - Write client attributes
    read-client [keys...]  - Read client attributes
    read-shared [keys...]  - Read shared attributes
    rpc <method> [json]    - Send an RPC to the platform

  Things:
    thing <id|name>        - Select the current thing
    info                   - List registered things and tokens
    status                 - Show engine and watchdog status

  General:
    help                   - Show this help
    quit                   - Exit`)
}

// run executes fn on the engine goroutine and reports its error.
func (c *Console) run(what string, fn func() error) {
	var err error
	if !c.exec(func() { err = fn() }) {
		fmt.Fprintln(c.out, "Error: engine stopped")
		return
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %s: %v\n", what, err)
		return
	}
	fmt.Fprintf(c.out, "%s sent for %s\n", what, c.current.Name())
}

// jsonArg joins args into one JSON document.
func jsonArg(args []string) (json.RawMessage, error) {
	raw := strings.Join(args, " ")
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("invalid JSON: %s", raw)
	}
	return json.RawMessage(raw), nil
}

func (c *Console) cmdTelemetry(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, `Usage: telemetry <json>`)
		fmt.Fprintln(c.out, `  Example: telemetry {"temperature":21.5}`)
		return
	}
	body, err := jsonArg(args)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.run("telemetry", func() error { return c.engine.SendTelemetry(c.current, body) })
}

func (c *Console) cmdAttributes(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, `Usage: attributes <json>`)
		fmt.Fprintln(c.out, `  Example: attributes {"firmware":"1.2.0"}`)
		return
	}
	body, err := jsonArg(args)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.run("attributes", func() error { return c.engine.WriteClientAttributes(c.current, body) })
}

func (c *Console) cmdReadClient(args []string) {
	c.run("read-client", func() error { return c.engine.ReadClientAttributes(c.current, args...) })
}

func (c *Console) cmdReadShared(args []string) {
	c.run("read-shared", func() error { return c.engine.ReadSharedAttributes(c.current, args...) })
}

func (c *Console) cmdRPC(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: rpc <method> [json]")
		fmt.Fprintln(c.out, "  Example: rpc getCurrentTime")
		return
	}
	method := args[0]
	var params any
	if len(args) > 1 {
		raw, err := jsonArg(args[1:])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		params = raw
	}
	c.run("rpc", func() error { return c.engine.SendRPC(c.current, method, params) })
}

func (c *Console) cmdThing(args []string) {
	if len(args) == 0 {
		if c.current != nil {
			fmt.Fprintf(c.out, "Current thing: %s (%s)\n", c.current.Name(), c.current.ID())
		}
		return
	}
	key := strings.Join(args, " ")
	var found *things.Thing
	c.exec(func() {
		found = c.engine.ThingByID(key)
		if found == nil {
			found = c.engine.ThingByName(key)
		}
	})
	if found == nil {
		fmt.Fprintf(c.out, "Unknown thing: %s\n", key)
		return
	}
	c.current = found
	fmt.Fprintf(c.out, "Current thing: %s (%s)\n", found.Name(), found.ID())
}

func (c *Console) cmdInfo() {
	var list []*things.Thing
	c.exec(func() { list = c.engine.Registry().Things() })

	for _, t := range list {
		marker := " "
		if t == c.current {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s [%d] %s  id=%s\n", marker, t.Index(), t.Name(), t.ID())
		fmt.Fprintf(c.out, "      shared-attr token=%s  incoming-rpc token=%s\n",
			t.Token(things.SlotSharedAttrObserve), t.Token(things.SlotIncomingRPCObserve))
	}
}

func (c *Console) cmdStatus() {
	var s things.Stats
	if !c.exec(func() { s = c.engine.Stats() }) {
		fmt.Fprintln(c.out, "Error: engine stopped")
		return
	}

	fmt.Fprintf(c.out, "Session:      %s\n", orDash(s.SessionID))
	fmt.Fprintf(c.out, "Watchdog:     %s (index %d, next check %s)\n", s.WatchdogState, s.WatchdogIndex, formatTime(s.NextCheck))
	lastPing := formatTime(s.LastPing)
	if s.LastPingError != nil {
		lastPing += " (" + s.LastPingError.Error() + ")"
	}
	fmt.Fprintf(c.out, "Last ping:    %s\n", lastPing)
	fmt.Fprintf(c.out, "Init runs:    %d\n", s.InitAttempts)
	fmt.Fprintf(c.out, "Requests:     %d (%d failed)\n", s.Requests, s.SendFailures)
	fmt.Fprintf(c.out, "Events:       %d (%d dropped)\n", s.Events, s.Dropped)
	for _, t := range s.Things {
		fmt.Fprintf(c.out, "  %s\n", t.Name)
		fmt.Fprintf(c.out, "    shared-attr:  %-9s every %v, next %s\n", t.SharedAttr.State, t.SharedAttr.Interval, formatTime(t.SharedAttr.NextDue))
		fmt.Fprintf(c.out, "    incoming-rpc: %-9s every %v, next %s\n", t.IncomingRPC.State, t.IncomingRPC.Interval, formatTime(t.IncomingRPC.NextDue))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

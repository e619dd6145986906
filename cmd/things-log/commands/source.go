package commands

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/connexthings/nbiot-go/pkg/log"
)

// Criteria select events by command-line values. Empty fields match
// everything.
type Criteria struct {
	Session   string
	Thing     string
	Layer     string
	Direction string
	Category  string

	// TimeStart (inclusive) and TimeEnd (exclusive) are RFC 3339.
	TimeStart string
	TimeEnd   string
}

// Bind registers the criteria as flags on fs.
func (c *Criteria) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Session, "session", "", "Filter by session ID")
	fs.StringVar(&c.Thing, "thing", "", "Filter by thing ID")
	fs.StringVar(&c.Layer, "layer", "", "Filter by layer (serial, datagram, coap, things)")
	fs.StringVar(&c.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&c.Category, "category", "", "Filter by category (message, control, state, error)")
	fs.StringVar(&c.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&c.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
}

// Filter parses the criteria into a capture filter.
func (c Criteria) Filter() (log.Filter, error) {
	f := log.Filter{SessionID: c.Session, ThingID: c.Thing}

	var err error
	if f.TimeStart, err = parseTime("time-start", c.TimeStart); err != nil {
		return f, err
	}
	if f.TimeEnd, err = parseTime("time-end", c.TimeEnd); err != nil {
		return f, err
	}
	if c.Layer != "" {
		l, err := ParseLayerFlag(c.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if c.Direction != "" {
		d, err := ParseDirectionFlag(c.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if c.Category != "" {
		cat, err := ParseCategoryFlag(c.Category)
		if err != nil {
			return f, err
		}
		f.Category = &cat
	}
	return f, nil
}

func parseTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &t, nil
}

var (
	directionNames = map[string]log.Direction{
		"in":  log.DirectionIn,
		"out": log.DirectionOut,
	}
	categoryNames = map[string]log.Category{
		"message": log.CategoryMessage,
		"control": log.CategoryControl,
		"state":   log.CategoryState,
		"error":   log.CategoryError,
	}
)

// ParseLayerFlag parses a layer name, ignoring case.
func ParseLayerFlag(s string) (log.Layer, error) {
	if l, ok := log.ParseLayer(strings.ToUpper(s)); ok {
		return l, nil
	}
	return 0, fmt.Errorf("invalid layer %q (one of serial, datagram, coap, things)", s)
}

// ParseDirectionFlag parses a direction name, ignoring case.
func ParseDirectionFlag(s string) (log.Direction, error) {
	return lookup("direction", directionNames, s)
}

// ParseCategoryFlag parses a category name, ignoring case.
func ParseCategoryFlag(s string) (log.Category, error) {
	return lookup("category", categoryNames, s)
}

func lookup[T any](what string, names map[string]T, s string) (T, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	valid := make([]string, 0, len(names))
	for name := range names {
		valid = append(valid, name)
	}
	sort.Strings(valid)
	var zero T
	return zero, fmt.Errorf("invalid %s %q (one of %s)", what, s, strings.Join(valid, ", "))
}

// Capture is an open capture source.
type Capture struct {
	*log.Reader
	files []*os.File
}

// Open opens a capture for reading. "-" reads standard input. When the
// device rotated the file, the rotated part is read first so the events
// stay in order.
func Open(path string, filter log.Filter) (*Capture, error) {
	if path == "-" {
		return &Capture{Reader: log.NewStreamReader(os.Stdin, filter)}, nil
	}

	c := &Capture{}
	var parts []io.Reader
	for _, p := range []string{log.RotatedPath(path), path} {
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) && p != path {
			continue
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		c.files = append(c.files, f)
		parts = append(parts, f)
	}
	c.Reader = log.NewStreamReader(io.MultiReader(parts...), filter)
	return c, nil
}

// Each calls fn for every remaining event.
func (c *Capture) Each(fn func(log.Event) error) error {
	for {
		event, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// Close closes every file the capture opened.
func (c *Capture) Close() error {
	var errs []error
	for _, f := range c.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

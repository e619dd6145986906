package commands

import (
	"fmt"

	"github.com/connexthings/nbiot-go/pkg/log"
)

// FilterOptions specifies the filter command's output file and criteria.
type FilterOptions struct {
	Output string
	Criteria
}

// RunFilter copies the matching events of a capture into a new capture
// file and returns how many it wrote.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.Filter()
	if err != nil {
		return 0, err
	}
	capture, err := Open(path, filter)
	if err != nil {
		return 0, err
	}
	defer capture.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = capture.Each(func(event log.Event) error {
		logger.Log(event)
		count++
		return nil
	})
	if cerr := logger.Close(); err == nil {
		err = cerr
	}
	if err == nil && logger.Dropped() > 0 {
		err = fmt.Errorf("%d events could not be written", logger.Dropped())
	}
	return count, err
}

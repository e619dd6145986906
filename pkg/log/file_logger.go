package log

import (
	"errors"
	"os"
	"sync"
)

// RotatedPath is where a FileLogger moves a full capture file.
func RotatedPath(path string) string {
	return path + ".1"
}

// FileLoggerConfig configures a FileLogger.
type FileLoggerConfig struct {
	// MaxSize rotates the file once the next record would push it past this
	// many bytes. The previous file is kept at RotatedPath, replacing an
	// older one. 0 disables rotation.
	MaxSize int64
}

// FileLogger appends capture events to a file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	maxSize int64

	file    *os.File
	size    int64
	dropped uint64
	closed  bool
}

// NewFileLogger opens path for appending without rotation.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithConfig(path, FileLoggerConfig{})
}

// NewFileLoggerWithConfig opens path for appending, creating it with 0644
// if needed. A record left incomplete by a power loss is cut off first.
func NewFileLoggerWithConfig(path string, config FileLoggerConfig) (*FileLogger, error) {
	if err := trimPartial(path); err != nil {
		return nil, err
	}
	l := &FileLogger{path: path, maxSize: config.MaxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// trimPartial truncates path after its last complete record. Files that
// are corrupt in other ways are left alone.
func trimPartial(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := decMode.NewDecoder(f)
	for {
		complete := dec.NumBytesRead()
		_, err := decodeNext(dec)
		if errors.Is(err, ErrTruncated) {
			return f.Truncate(int64(complete))
		}
		if err != nil {
			return nil
		}
	}
}

// Log appends an event. Events that cannot be encoded or written are
// counted in Dropped.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err != nil {
		l.dropped++
		return
	}
	if l.file != nil && l.maxSize > 0 && l.size > 0 && l.size+int64(len(data)) > l.maxSize {
		_ = l.file.Close()
		l.file = nil
		// On failure the current file is reopened and keeps growing.
		_ = os.Rename(l.path, RotatedPath(l.path))
	}
	if l.file == nil {
		if err := l.open(); err != nil {
			l.dropped++
			return
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	if err != nil {
		l.dropped++
	}
}

// Dropped returns the number of events that were not written.
func (l *FileLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the file. Later Log calls are ignored; repeated Close is a no-op.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)

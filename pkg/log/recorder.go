package log

import "time"

// Recorder stamps events with a session ID and timestamp before passing
// them to a Logger. A nil *Recorder discards everything, so components can
// hold one unconditionally.
type Recorder struct {
	logger  Logger
	session string
	now     func() time.Time
}

// NewRecorder returns a Recorder for the given session. Returns nil when
// logger is nil.
func NewRecorder(logger Logger, session string) *Recorder {
	if logger == nil {
		return nil
	}
	return &Recorder{logger: logger, session: session, now: time.Now}
}

// WithClock replaces the timestamp source. Used by tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if r != nil {
		r.now = now
	}
	return r
}

// Record fills in Timestamp and SessionID and logs the event.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.SessionID == "" {
		event.SessionID = r.session
	}
	r.logger.Log(event)
}

// RecordError logs an error event for the given layer.
func (r *Recorder) RecordError(layer Layer, context string, err error) {
	if r == nil || err == nil {
		return
	}
	r.Record(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}

package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter mirrors capture events into an slog.Logger. Error events are
// written at Warn, everything else at Debug, so an adapter attached to an
// Info logger only surfaces protocol failures.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Level returns the slog level event is written at.
func Level(event Event) slog.Level {
	if event.Category == CategoryError {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}

// Log writes event if the logger is enabled for its level.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	level := Level(event)
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.ThingID != "" {
		attrs = append(attrs, slog.String("thing", event.ThingID))
	}

	switch {
	case event.Command != nil:
		attrs = append(attrs, slog.String("line", event.Command.Line))
		if event.Command.Kind != "" {
			attrs = append(attrs, slog.String("kind", event.Command.Kind))
		}
	case event.Datagram != nil:
		attrs = append(attrs,
			slog.Int("socket", event.Datagram.Socket),
			slog.Int("size", event.Datagram.Size),
			slog.Bool("truncated", event.Datagram.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("type", event.Message.Type),
			slog.String("code", event.Message.Code),
			slog.Int("mid", int(event.Message.MessageID)),
			slog.String("token", hex.EncodeToString(event.Message.Token)),
		)
		if event.Message.Path != "" {
			attrs = append(attrs, slog.String("path", event.Message.Path))
		}
		if event.Message.Observe != nil {
			attrs = append(attrs, slog.Uint64("observe", uint64(*event.Message.Observe)))
		}
	case event.Platform != nil:
		attrs = append(attrs, slog.String("kind", event.Platform.Kind))
		if event.Platform.Method != "" {
			attrs = append(attrs, slog.String("method", event.Platform.Method))
		}
		if event.Platform.RPCID != nil {
			attrs = append(attrs, slog.Int("rpc_id", *event.Platform.RPCID))
		}
		if event.Platform.Status != nil {
			attrs = append(attrs, slog.Int("status", *event.Platform.Status))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs,
			slog.String("ctrl_type", event.Control.Type.String()),
			slog.Int("mid", int(event.Control.MessageID)),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(ctx, level, "capture", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/connexthings/nbiot-go/pkg/things"
)

// loop owns the engine. Everything that touches the engine, console
// commands included, runs on the loop goroutine.
type loop struct {
	engine *things.Engine
	period time.Duration
	logger *slog.Logger

	cmds chan func()
	done chan struct{}
}

func newLoop(engine *things.Engine, period time.Duration, logger *slog.Logger) *loop {
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	return &loop{
		engine: engine,
		period: period,
		logger: logger,
		cmds:   make(chan func()),
		done:   make(chan struct{}),
	}
}

// Run brings the network up and ticks the engine until ctx is done or the
// network cannot be recovered.
func (l *loop) Run(ctx context.Context) error {
	defer close(l.done)

	if err := l.engine.Start(ctx); err != nil {
		return err
	}
	l.logger.Info("network ready", slog.String("session", l.engine.SessionID()))

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.cmds:
			fn()
		case <-ticker.C:
			if err := l.engine.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Exec runs fn on the loop goroutine and waits for it. It returns false
// when the loop has stopped.
func (l *loop) Exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case l.cmds <- func() { fn(); close(finished) }:
	case <-l.done:
		return false
	}
	<-finished
	return true
}

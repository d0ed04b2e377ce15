package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ReconnectDelay is the fixed pause between stream attempts.
const ReconnectDelay = 5 * time.Second

// ErrStreamClosed is returned by Stream.Next when the source has no more
// events for this connection.
var ErrStreamClosed = errors.New("changefeed: stream closed")

// Source opens a change stream.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields events until it fails or is closed.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Handler consumes events. It must not block for long; the stream is read
// one event at a time.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Watcher runs the connect, stream, reconnect loop.
type Watcher struct {
	source  Source
	handler Handler
	delay   time.Duration
	logger  *slog.Logger
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithReconnectDelay overrides ReconnectDelay.
func WithReconnectDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.delay = d }
}

func NewWatcher(source Source, handler Handler, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:  source,
		handler: handler,
		delay:   ReconnectDelay,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled. Connection and stream errors are logged
// and retried after the reconnect delay; they are never returned.
func (w *Watcher) Run(ctx context.Context) {
	for {
		err := w.stream(ctx)
		if ctx.Err() != nil {
			w.logger.Info("change feed stopped")
			return
		}
		w.logger.Error("change feed interrupted, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", w.delay),
		)

		select {
		case <-ctx.Done():
			w.logger.Info("change feed stopped")
			return
		case <-time.After(w.delay):
		}
	}
}

func (w *Watcher) stream(ctx context.Context) error {
	s, err := w.source.Open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	w.logger.Info("change feed connected")
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return err
		}
		w.handler.Handle(ctx, ev)
	}
}

package changefeed

import (
	"context"
	"sync"
)

// MemorySource is an in-process Source. Publish delivers to whichever stream
// is open; Fail ends the open stream with an error so reconnect paths can be
// exercised. Events published while no stream is open wait in the buffer.
type MemorySource struct {
	events chan Event

	mu     sync.Mutex
	opens  int
	failCh chan error
}

func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{events: make(chan Event, buffer)}
}

// Publish queues ev. It blocks when the buffer is full.
func (m *MemorySource) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail breaks the currently open stream with err.
func (m *MemorySource) Fail(err error) {
	m.mu.Lock()
	ch := m.failCh
	m.mu.Unlock()
	if ch != nil {
		select {
		case ch <- err:
		default:
		}
	}
}

// Opens reports how many times Open has been called.
func (m *MemorySource) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *MemorySource) Open(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	m.failCh = make(chan error, 1)
	return &memoryStream{src: m, fail: m.failCh}, nil
}

type memoryStream struct {
	src  *MemorySource
	fail chan error
}

func (s *memoryStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.src.events:
		return ev, nil
	case err := <-s.fail:
		if err == nil {
			err = ErrStreamClosed
		}
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *memoryStream) Close() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.src.failCh == s.fail {
		s.src.failCh = nil
	}
	return nil
}

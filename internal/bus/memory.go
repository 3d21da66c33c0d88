package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoSubscribers is returned by Memory.Publish when nobody would receive
// the message, so the caller keeps it for a later attempt.
var ErrNoSubscribers = errors.New("bus: no subscribers")

// Memory is an in-process bus for tests and single-binary development.
// Publish runs every subscribed handler before returning and reports their
// errors, so a message counts as delivered only once all handlers accepted it.
type Memory struct {
	mu      sync.Mutex
	subs    map[int]Handler
	nextID  int
	ready   chan struct{}
	once    sync.Once
	history []Message

	// Keep bounds how many delivered messages Messages returns.
	Keep int

	// FailNext makes the next N Publish calls return Err.
	FailNext int
	Err      error
}

func NewMemory() *Memory {
	return &Memory{
		subs:  map[int]Handler{},
		ready: make(chan struct{}),
		Keep:  256,
	}
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.FailNext > 0 {
		m.FailNext--
		err := m.Err
		m.mu.Unlock()
		return err
	}
	if len(m.subs) == 0 {
		m.mu.Unlock()
		return ErrNoSubscribers
	}
	handlers := make([]Handler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("bus: message %s not handled: %w", msg.ID, err)
	}

	m.mu.Lock()
	m.history = append(m.history, msg)
	if m.Keep >= 0 && len(m.history) > m.Keep {
		m.history = append([]Message(nil), m.history[len(m.history)-m.Keep:]...)
	}
	m.mu.Unlock()
	return nil
}

// Subscribe registers h until ctx is done. Failed messages are not retried
// here; Publish returns the failure and the publisher redelivers.
func (m *Memory) Subscribe(ctx context.Context, h Handler) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = h
	m.mu.Unlock()
	m.once.Do(func() { close(m.ready) })

	<-ctx.Done()

	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
	return ctx.Err()
}

// Subscribed is closed once the first handler has registered.
func (m *Memory) Subscribed() <-chan struct{} { return m.ready }

// Messages returns the most recently delivered messages, oldest first.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.history...)
}

package eventloop

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO. Push never blocks; items pushed before
// Close are still delivered after it.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	notify chan struct{}
	closed bool

	outOnce sync.Once
	out     chan T
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		items:  queue.New(),
		notify: make(chan struct{}),
	}
}

// Push reports false if the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items.Add(v)
	m.signalLocked()
	return true
}

func (m *Mailbox[T]) signalLocked() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// Pop waits for the next item. After Close it drains the remaining items and
// then returns ErrMailboxClosed.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		if m.items.Length() > 0 {
			v := m.items.Remove().(T)
			m.mu.Unlock()
			return v, nil
		}
		if m.closed {
			m.mu.Unlock()
			var zero T
			return zero, ErrMailboxClosed
		}
		notify := m.notify
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, context.Cause(ctx)
		case <-notify:
		}
	}
}

// Peek returns the next item without removing it.
func (m *Mailbox[T]) Peek() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return m.items.Peek().(T), true
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Length()
}

func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.signalLocked()
}

// Out exposes the mailbox as a channel. The pump goroutine starts on the
// first call, so an unobserved mailbox costs no goroutine. The channel is
// closed once the mailbox is closed and drained.
func (m *Mailbox[T]) Out() <-chan T {
	m.outOnce.Do(func() {
		m.out = make(chan T)
		go func() {
			defer close(m.out)
			for {
				v, err := m.Pop(context.Background())
				if err != nil {
					return
				}
				m.out <- v
			}
		}()
	})
	return m.out
}

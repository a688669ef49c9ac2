// Package eventloop runs closures one at a time on a dedicated goroutine.
//
// A Loop gives an object with many asynchronous inputs (network callbacks,
// timers, API calls) a single-threaded core: every input is posted as a
// closure and executed in order, so the object's state needs no locking.
package eventloop

import (
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
)

var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	mu      sync.Mutex
	tasks   *queue.Queue
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

func New() *Loop {
	l := &Loop{
		tasks: queue.New(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			<-l.wake
			continue
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()

		fn()
	}
}

// Post schedules fn and never blocks. It reports false once the loop is
// stopped, in which case fn is dropped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks.Add(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to return. It must not be used
// from inside a closure that is already running on the loop.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// Stop may race with a task that already ran.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Stop discards queued closures and ends the loop after the running closure
// returns. Safe to call from inside the loop and more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	for l.tasks.Length() > 0 {
		l.tasks.Remove()
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a one-shot timer whose callback runs on the loop.
type Timer struct {
	timer *time.Timer

	mu       sync.Mutex
	canceled bool
}

// AfterFunc posts fn to the loop once d elapses. A Timer stopped before fn
// runs on the loop guarantees fn never runs, even if it was already posted.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.isCanceled() {
				return
			}
			fn()
		})
	})
	return t
}

func (t *Timer) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.timer.Stop()
}

// Ticker repeatedly posts fn to the loop until stopped.
type Ticker struct {
	ticker *time.Ticker
	quit   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	canceled bool
}

func (l *Loop) Every(d time.Duration, fn func()) *Ticker {
	t := &Ticker{
		ticker: time.NewTicker(d),
		quit:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.quit:
				return
			case <-l.done:
				t.ticker.Stop()
				return
			case <-t.ticker.C:
				l.Post(func() {
					if t.isCanceled() {
						return
					}
					fn()
				})
			}
		}
	}()
	return t
}

func (t *Ticker) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.quit)
	})
}

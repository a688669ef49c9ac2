// Package sessionpool tracks the live sessions of a long-running process.
package sessionpool

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/romashorodok/peerstream/pkg/peer"
	"go.uber.org/atomic"
	"go.uber.org/fx"
)

// Below this many sessions DestroyAll works serially.
const parallelThreshold = 16

type Pool struct {
	sessionsMu sync.Mutex
	sessions   map[string]*peer.Session
}

func New() *Pool {
	return &Pool{sessions: make(map[string]*peer.Session)}
}

// Add registers s and returns its pool id. The session leaves the pool on
// its own once it is done.
func (p *Pool) Add(s *peer.Session) string {
	id := uuid.NewString()

	p.sessionsMu.Lock()
	p.sessions[id] = s
	p.sessionsMu.Unlock()

	go func() {
		<-s.Done()
		p.sessionsMu.Lock()
		delete(p.sessions, id)
		p.sessionsMu.Unlock()
	}()
	return id
}

func (p *Pool) Get(id string) (*peer.Session, bool) {
	p.sessionsMu.Lock()
	defer p.sessionsMu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *Pool) Sessions() []*peer.Session {
	p.sessionsMu.Lock()
	defer p.sessionsMu.Unlock()

	result := make([]*peer.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		result = append(result, s)
	}
	return result
}

func (p *Pool) Len() int {
	p.sessionsMu.Lock()
	defer p.sessionsMu.Unlock()
	return len(p.sessions)
}

// DestroyAll destroys every pooled session with err and waits for each to
// finish or for ctx to end.
func (p *Pool) DestroyAll(ctx context.Context, err error) error {
	sessions := p.Sessions()
	parallelExec(sessions, parallelThreshold, func(s *peer.Session) {
		s.Destroy(err)
	})

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// parallelExec calls fn for every value, spread over one worker per CPU
// once there are at least threshold values. fn must be safe for
// concurrent use.
func parallelExec[T any](vals []T, threshold int, fn func(T)) {
	if len(vals) < threshold {
		for _, v := range vals {
			fn(v)
		}
		return
	}

	next := atomic.NewInt64(-1)
	workers := min(runtime.NumCPU(), len(vals))

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for {
				i := next.Inc()
				if i >= int64(len(vals)) {
					return
				}
				fn(vals[i])
			}
		}()
	}
	wg.Wait()
}

type newPool_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
}

// NewPool provides a pool whose sessions are destroyed when the app stops.
func NewPool(params newPool_Params) *Pool {
	pool := New()
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pool.DestroyAll(ctx, nil)
		},
	})
	return pool
}

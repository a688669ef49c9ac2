package sessionpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/romashorodok/peerstream/internal/enginetest"
	"github.com/romashorodok/peerstream/pkg/peer"
	"go.uber.org/atomic"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func newSession(t *testing.T, eng *enginetest.Engine) *peer.Session {
	t.Helper()
	s, err := peer.New(peer.Options{Engine: eng})
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for range s.Events() {
		}
	}()
	return s
}

func waitLen(t *testing.T, p *Pool, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for p.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sessions, have %d", n, p.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPool(t *testing.T) {
	eng := enginetest.New(enginetest.Options{})
	pool := New()

	first := newSession(t, eng)
	id := pool.Add(first)
	pool.Add(newSession(t, eng))

	if s, ok := pool.Get(id); !ok || s != first {
		t.Fatal("lookup did not return the added session")
	}
	if pool.Len() != 2 {
		t.Fatalf("expected 2 sessions, have %d", pool.Len())
	}

	first.Destroy(nil)
	waitLen(t, pool, 1)
	if _, ok := pool.Get(id); ok {
		t.Fatal("destroyed session still pooled")
	}
}

func TestDestroyAll(t *testing.T) {
	for name, n := range map[string]int{
		"Serial":   parallelThreshold - 1,
		"Parallel": parallelThreshold * 2,
	} {
		n := n
		t.Run(name, func(t *testing.T) {
			eng := enginetest.New(enginetest.Options{})
			pool := New()
			sessions := make([]*peer.Session, n)
			for i := range sessions {
				sessions[i] = newSession(t, eng)
				pool.Add(sessions[i])
			}

			cause := errors.New("shutdown")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pool.DestroyAll(ctx, cause); err != nil {
				t.Fatal(err)
			}
			for _, s := range sessions {
				if !errors.Is(s.Err(), cause) {
					t.Fatalf("expected %v, got %v", cause, s.Err())
				}
			}
			waitLen(t, pool, 0)
		})
	}
}

func TestParallelExecVisitsEachOnce(t *testing.T) {
	vals := make([]int, 1000)
	for i := range vals {
		vals[i] = i
	}
	seen := make([]atomic.Int32, len(vals))
	parallelExec(vals, 1, func(v int) { seen[v].Inc() })
	for i := range seen {
		if seen[i].Load() != 1 {
			t.Fatalf("value %d visited %d times", i, seen[i].Load())
		}
	}
}

func TestNewPoolStopsSessions(t *testing.T) {
	var pool *Pool
	app := fxtest.New(t, fx.NopLogger, fx.Provide(NewPool), fx.Populate(&pool))
	app.RequireStart()

	s := newSession(t, enginetest.New(enginetest.Options{}))
	pool.Add(s)
	app.RequireStop()

	if !s.Destroyed() {
		t.Fatal("app stop left a session alive")
	}
}

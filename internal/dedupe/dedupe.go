// Package dedupe collapses concurrent identical requests into one flight.
// A key is pending from registration until its owner settles it; callers
// arriving while it is pending share the owner's value.
package dedupe

import (
	"context"
	"fmt"
	"sync"
)

// Flight is one pending unit of work.
type Flight[T any] struct {
	key  string
	val  T
	err  error
	done chan struct{}
	once sync.Once
}

// Value returns the shared value. For flights created by Start it is
// available immediately; for Do it is valid once Done is closed.
func (f *Flight[T]) Value() T { return f.val }

// Done is closed when the flight settles.
func (f *Flight[T]) Done() <-chan struct{} { return f.done }

// Err is the settle error; valid once Done is closed.
func (f *Flight[T]) Err() error {
	<-f.done
	return f.err
}

// Group tracks pending flights by key. The zero value is ready to use.
type Group[T any] struct {
	mu      sync.Mutex
	flights map[string]*Flight[T]
}

// Do runs fn once per pending key. Concurrent callers with the same key wait
// and receive the identical value or error; shared reports whether this
// caller joined an existing flight.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (v T, shared bool, err error) {
	g.mu.Lock()
	if g.flights == nil {
		g.flights = make(map[string]*Flight[T])
	}
	if f, ok := g.flights[key]; ok {
		g.mu.Unlock()
		select {
		case <-f.done:
			return f.val, true, f.err
		case <-ctx.Done():
			var zero T
			return zero, true, ctx.Err()
		}
	}
	f := &Flight[T]{key: key, done: make(chan struct{})}
	g.flights[key] = f
	g.mu.Unlock()

	g.run(f, fn)
	return f.val, false, f.err
}

func (g *Group[T]) run(f *Flight[T], fn func() (T, error)) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			g.Settle(f, fmt.Errorf("dedupe: flight %q panicked: %v", f.key, r))
			panic(r)
		}
		g.Settle(f, err)
	}()
	f.val, err = fn()
}

// Start registers key with the value built by init, unless it is already
// pending. The leader must call Settle exactly once, typically deferred;
// followers read the shared Value.
func (g *Group[T]) Start(key string, init func() T) (f *Flight[T], leader bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flights == nil {
		g.flights = make(map[string]*Flight[T])
	}
	if f, ok := g.flights[key]; ok {
		return f, false
	}
	f = &Flight[T]{key: key, val: init(), done: make(chan struct{})}
	g.flights[key] = f
	return f, true
}

// Settle removes the flight's key and releases waiters. Later calls are no-ops.
func (g *Group[T]) Settle(f *Flight[T], err error) {
	f.once.Do(func() {
		g.mu.Lock()
		if g.flights[f.key] == f {
			delete(g.flights, f.key)
		}
		g.mu.Unlock()
		f.err = err
		close(f.done)
	})
}

// Pending reports how many keys are currently in flight.
func (g *Group[T]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}

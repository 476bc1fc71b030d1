// Package fanout delivers one event to any number of independently
// registered listeners.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"marketvalues/internal/logger"
)

type Listener[T any] func(ctx context.Context, v T)

type registration[T any] struct {
	id uint64
	fn Listener[T]
}

type Dispatcher[T any] struct {
	name string

	mu        sync.Mutex
	nextID    uint64
	listeners []registration[T]
}

func NewDispatcher[T any](name string) *Dispatcher[T] {
	return &Dispatcher[T]{name: name}
}

// Subscribe registers fn and returns the function that removes exactly this
// registration. Calling it more than once is a no-op.
func (d *Dispatcher[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, registration[T]{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher[T]) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.listeners {
		if r.id == id {
			// Copy so snapshots taken by an in-flight Publish stay intact.
			next := make([]registration[T], 0, len(d.listeners)-1)
			next = append(next, d.listeners[:i]...)
			d.listeners = append(next, d.listeners[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Publish calls every listener registered when Publish started, in
// registration order. A panicking listener is logged and skipped.
func (d *Dispatcher[T]) Publish(ctx context.Context, v T) {
	d.mu.Lock()
	snapshot := make([]registration[T], len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	for _, r := range snapshot {
		d.call(ctx, r, v)
	}
}

func (d *Dispatcher[T]) call(ctx context.Context, r registration[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorWithErr(ctx, "Listener panicked", fmt.Errorf("%v", p),
				"dispatcher", d.name, "listener_id", r.id)
		}
	}()
	r.fn(ctx, v)
}

// Package observable provides an equality-gated value with push subscriptions.
package observable

import (
	"context"
	"sync"
)

// Readable is the read side of a Value, handed to observers that must not Set.
type Readable[T any] interface {
	Get() T
	Subscribe(fn func(T)) *Subscription
	SubscribeContext(ctx context.Context, fn func(T)) *Subscription
}

// Value holds a current value and notifies subscribers when it changes.
//
// Emissions are serialized: a subscriber never sees two emissions at once and
// sees them in Set order. A subscriber must not call Set on the same Value
// synchronously from its callback.
type Value[T any] struct {
	emitMu sync.Mutex

	mu     sync.RWMutex
	value  T
	equal  func(a, b T) bool
	subs   map[uint64]func(T)
	nextID uint64
}

// New creates a Value for a comparable type, compared with ==.
func New[T comparable](initial T) *Value[T] {
	return NewWithEqual(initial, func(a, b T) bool { return a == b })
}

// NewWithEqual creates a Value that uses equal to suppress duplicate emissions.
func NewWithEqual[T any](initial T, equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		value: initial,
		equal: equal,
		subs:  make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores x and notifies subscribers if it differs from the current value.
func (v *Value[T]) Set(x T) bool {
	return v.Update(func(T) T { return x })
}

// Update applies fn to the current value atomically with respect to other
// Set/Update calls and emits if the result differs.
func (v *Value[T]) Update(fn func(T) T) bool {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	next := fn(v.value)
	if v.equal(v.value, next) {
		v.mu.Unlock()
		return false
	}
	v.value = next
	subs := v.snapshotLocked()
	v.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return true
}

// Subscribe registers fn and calls it with the current value before returning.
func (v *Value[T]) Subscribe(fn func(T)) *Subscription {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	current := v.value
	v.mu.Unlock()

	fn(current)

	return &Subscription{cancel: func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}}
}

// SubscribeContext is Subscribe with the subscription dropped once ctx is done.
func (v *Value[T]) SubscribeContext(ctx context.Context, fn func(T)) *Subscription {
	sub := v.Subscribe(fn)
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done():
		}
	}()
	return sub
}

// Subscribers returns the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}

func (v *Value[T]) snapshotLocked() []func(T) {
	// Order between subscribers is unspecified.
	out := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		out = append(out, fn)
	}
	return out
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
	doneMu sync.Mutex
	doneCh chan struct{}
}

// Cancel removes the subscriber. Safe to call more than once and from inside
// the subscriber callback.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		close(s.done())
	})
}

func (s *Subscription) done() chan struct{} {
	s.doneMu.Lock()
	defer s.doneMu.Unlock()
	if s.doneCh == nil {
		s.doneCh = make(chan struct{})
	}
	return s.doneCh
}

// Wait blocks until pred holds for the value of v or ctx is done. The check is
// driven by emissions, not polling.
func Wait[T any](ctx context.Context, v Readable[T], pred func(T) bool) (T, error) {
	found := make(chan T, 1)
	sub := v.Subscribe(func(x T) {
		if pred(x) {
			select {
			case found <- x:
			default:
			}
		}
	})
	defer sub.Cancel()

	select {
	case x := <-found:
		return x, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

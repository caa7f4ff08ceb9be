// ABOUTME: Generic synchronous fan-out topic with per-subscriber fault isolation
// ABOUTME: Copy-on-write subscriber list so Publish never iterates a mutating slice

package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handler receives one event.
type Handler[T any] func(T)

type subscriber[T any] struct {
	id string
	fn Handler[T]
}

// Topic is a single event kind with its own subscriber list.
type Topic[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   []*subscriber[T] // replaced, never mutated in place
	logger *slog.Logger
}

// NewTopic creates a topic. Pass nil logger for default.
func NewTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[T]{
		name:   name,
		logger: logger.With("component", "eventbus", "topic", name),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers fn and returns the subscription that removes it.
func (t *Topic[T]) Subscribe(fn Handler[T]) *Subscription {
	sub := &subscriber[T]{id: uuid.New().String(), fn: fn}

	t.mu.Lock()
	next := make([]*subscriber[T], len(t.subs), len(t.subs)+1)
	copy(next, t.subs)
	t.subs = append(next, sub)
	t.mu.Unlock()

	t.logger.Debug("subscriber added", "sub_id", sub.id)

	return &Subscription{
		ID:     sub.id,
		cancel: func() { t.unsubscribe(sub.id) },
	}
}

func (t *Topic[T]) unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]*subscriber[T], 0, len(t.subs))
	for _, s := range t.subs {
		if s.id != id {
			next = append(next, s)
		}
	}
	t.subs = next

	t.logger.Debug("subscriber removed", "sub_id", id)
}

// Len returns the current number of subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish delivers event to every current subscriber.
func (t *Topic[T]) Publish(event T) {
	t.mu.RLock()
	targets := t.subs
	t.mu.RUnlock()

	for _, s := range targets {
		t.deliver(s, event)
	}
}

func (t *Topic[T]) deliver(s *subscriber[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("subscriber panicked",
				"sub_id", s.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	s.fn(event)
}

// Subscription is a handle to a registered handler.
type Subscription struct {
	ID     string
	once   sync.Once
	cancel func()
}

// Close removes the handler. It is safe to call multiple times.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscriptions closes a group of subscriptions together.
type Subscriptions []*Subscription

// Close closes every subscription in the group.
func (ss Subscriptions) Close() {
	for _, s := range ss {
		s.Close()
	}
}

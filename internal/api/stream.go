// ABOUTME: In-memory fan-out of bus events to streaming HTTP clients
// ABOUTME: Each subscriber gets a buffered channel; slow subscribers drop events

package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/eventbus"
)

// subscriberBufferSize is the channel buffer for each streaming client.
const subscriberBufferSize = 64

// KindSnapshot is the first envelope every stream receives.
const KindSnapshot = "snapshot"

// Envelope is one event on the wire. Data holds the bus event itself.
type Envelope struct {
	Kind    string    `json:"kind"`
	AgentID string    `json:"agentId,omitempty"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

type streamSub struct {
	agentID string
	ch      chan Envelope
}

// Broadcaster relays bus events to streaming clients. Bus delivery is
// synchronous, so Publish never blocks on a client.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*streamSub
	closed      bool
	now         func() time.Time
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]*streamSub),
		now:         time.Now,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Attach subscribes the broadcaster to every topic on bus.
func (b *Broadcaster) Attach(bus *agent.Bus) eventbus.Subscriptions {
	return eventbus.Subscriptions{
		bus.GlobalLog.Subscribe(func(e agent.LogEntry) {
			b.Publish(Envelope{Kind: agent.KindGlobalLog, At: e.At, Data: e})
		}),
		bus.AgentLog.Subscribe(func(e agent.AgentLogEntry) {
			b.Publish(Envelope{Kind: agent.KindAgentLog, AgentID: e.AgentID, At: e.At, Data: e})
		}),
		bus.StatusChanged.Subscribe(func(e agent.StatusChanged) {
			b.Publish(Envelope{Kind: agent.KindStatusChanged, AgentID: e.AgentID, Data: e})
		}),
		bus.ScheduleChanged.Subscribe(func(e agent.ScheduleChanged) {
			b.Publish(Envelope{Kind: agent.KindScheduleChanged, AgentID: e.AgentID, Data: e})
		}),
		bus.APIState.Subscribe(func(e agent.ConnStateChanged) {
			b.Publish(Envelope{Kind: agent.KindAPIState, AgentID: e.AgentID, Data: e})
		}),
		bus.DBState.Subscribe(func(e agent.ConnStateChanged) {
			b.Publish(Envelope{Kind: agent.KindDBState, AgentID: e.AgentID, Data: e})
		}),
	}
}

// Subscribe registers a client. A non-empty agentID limits the stream to
// events scoped to that agent. The subscription ends when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, agentID string) (<-chan Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan Envelope, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = &streamSub{agentID: agentID, ch: ch}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "agent_id", agentID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers env to every matching subscriber without blocking.
func (b *Broadcaster) Publish(env Envelope) {
	if env.At.IsZero() {
		env.At = b.now()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if sub.agentID != "" && sub.agentID != env.AgentID {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "kind", env.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every stream. Later subscriptions are closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.logger.Debug("broadcaster closed")
}

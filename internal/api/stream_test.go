// ABOUTME: Tests for the streaming broadcaster
// ABOUTME: Covers agent filtering, slow-subscriber drops, close and context cleanup

package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/partner-poller/internal/agent"
)

func TestBroadcaster_FiltersByAgent(t *testing.T) {
	b := NewBroadcaster(nil)
	bus := agent.NewBus(nil)
	defer b.Attach(bus).Close()

	all, _ := b.Subscribe(t.Context(), "")
	alpha, _ := b.Subscribe(t.Context(), "alpha")

	bus.AgentLogf("beta", agent.LevelInfo, "beta line")
	bus.PublishStatus("alpha", agent.StatusActive)

	first := <-all
	assert.Equal(t, agent.KindAgentLog, first.Kind)
	assert.Equal(t, "beta", first.AgentID)
	second := <-all
	assert.Equal(t, agent.KindStatusChanged, second.Kind)
	assert.False(t, second.At.IsZero())

	got := <-alpha
	assert.Equal(t, agent.KindStatusChanged, got.Kind)
	assert.Equal(t, agent.StatusChanged{AgentID: "alpha", Status: agent.StatusActive}, got.Data)
	assert.Empty(t, alpha)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(t.Context(), "")

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 2 {
			b.Publish(Envelope{Kind: agent.KindGlobalLog})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(t.Context(), "")

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	late, _ := b.Subscribe(t.Context(), "")
	_, ok = <-late
	assert.False(t, ok)

	b.Publish(Envelope{Kind: agent.KindGlobalLog})
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(t.Context())
	ch, id := b.Subscribe(ctx, "")
	require.Equal(t, 1, b.Len())

	cancel()
	require.Eventually(t, func() bool { return b.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)

	b.Unsubscribe(id)
}

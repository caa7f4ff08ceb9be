// ABOUTME: Mirrors bus log entries and lifecycle events into slog
// ABOUTME: Keeps the event stream visible in process logs with no UI attached

package observer

import (
	"context"
	"log/slog"

	"github.com/2389/partner-poller/internal/agent"
	"github.com/2389/partner-poller/internal/eventbus"
)

// AttachLogSink subscribes logger to bus. Close the result to detach.
func AttachLogSink(bus *agent.Bus, logger *slog.Logger) eventbus.Subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	return eventbus.Subscriptions{
		bus.GlobalLog.Subscribe(func(e agent.LogEntry) {
			logger.Log(context.Background(), slogLevel(e.Level), e.Message)
		}),
		bus.AgentLog.Subscribe(func(e agent.AgentLogEntry) {
			logger.Log(context.Background(), slogLevel(e.Level), e.Message, "agent_id", e.AgentID)
		}),
		bus.StatusChanged.Subscribe(func(e agent.StatusChanged) {
			logger.Debug("status changed", "agent_id", e.AgentID, "status", e.Status.String())
		}),
		bus.APIState.Subscribe(func(e agent.ConnStateChanged) {
			logger.Debug("api state changed", "agent_id", e.AgentID, "status", e.Status.String(), "code", e.Code.String())
		}),
		bus.DBState.Subscribe(func(e agent.ConnStateChanged) {
			logger.Debug("db state changed", "agent_id", e.AgentID, "status", e.Status.String(), "code", e.Code.String())
		}),
	}
}

func slogLevel(l agent.LogLevel) slog.Level {
	switch l {
	case agent.LevelError:
		return slog.LevelError
	case agent.LevelWarning:
		return slog.LevelWarn
	default:
		// Per-tick chatter, including pretty-printed payloads, stays at info.
		return slog.LevelInfo
	}
}

// Package agent orchestrates polling agents: their contract, their state
// machine, and the Manager that runs their ticks.
//
// # Agent contract
//
// An Agent is one integration with an external system. It exposes a stable
// lowercase id, a display name, a Status (stopped, active, paused) and the
// operations Activate, Pause, Resume, Stop and Tick. Most agents embed
// StateMachine for the status half of the contract.
//
//	stopped --Activate--> active <--Pause/Resume--> paused
//	   ^                     |                        |
//	   +-------- Stop -------+------------------------+
//
// # Manager
//
// The Manager is the registry of agents and the only component that invokes
// Tick:
//
//	mgr := agent.NewManager(bus, logger)
//	mgr.Register(a)
//	mgr.StartNow(ctx, "uzstandart")     // manual: forces resume from paused
//	mgr.RunScheduled(ctx, "uzstandart") // scheduler: never changes status
//
// Ticks are single-flight per agent. A second request while a tick is in
// flight is dropped with a warning, never queued; the per-agent gate is a
// compare-and-swap, so callers never block on it. Ticks of different agents
// run in parallel.
//
// Each tick gets a fresh context linked to the caller's context; Stop and
// StopAll cancel it. A tick that returns a cancellation error is benign and
// leaves status untouched. A tick that returns any other error, or panics,
// demotes its agent to stopped and resets the api state to unknown.
//
// # Events
//
// Bus groups the six event kinds observers can subscribe to: global log,
// agent log, status changed, schedule changed, api state changed and db
// state changed.
package agent

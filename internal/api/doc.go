// Package api is the observer HTTP surface of the poller.
//
// It lists agents with their schedule and runtime state, maps control
// requests (start, pause, resume, stop and their broadcast forms) onto the
// agent manager, and streams every bus event to remote observers over
// server-sent events (/api/events) or a websocket (/api/ws). Each stream
// opens with a snapshot envelope so a client can render the current state
// before incremental events arrive.
package api

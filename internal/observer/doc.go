// Package observer holds bus subscribers that are not user interfaces: a
// log sink that mirrors events into slog, and a recorder that writes
// api-state and last-error facts into the runtime state store.
package observer

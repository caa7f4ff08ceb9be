// Package eventbus provides typed, in-process publish/subscribe topics.
//
// # Delivery
//
// Publish delivers synchronously, in the publisher's goroutine, to a snapshot
// of the subscribers registered when Publish was called. Each handler runs
// inside its own recover: a panicking subscriber is logged and skipped, the
// remaining subscribers still receive the event and the publisher never sees
// the failure.
//
// Subscribers of one topic observe events in the order Publish was called by
// any single goroutine. No ordering is implied across topics.
//
// # Subscriptions
//
//	sub := topic.Subscribe(func(e Event) { ... })
//	defer sub.Close()
//
// Subscribe and Close may run concurrently with Publish; publishing to a topic
// with no subscribers is a no-op.
package eventbus

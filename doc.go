// Package webhooks delivers domain events from a multi-tenant knowledge API
// to tenant-registered HTTP endpoints.
//
// A Service owns an in-memory delivery queue and a fixed pool of workers.
// Producers call Broadcast after a state-changing operation commits; the
// matcher selects subscriptions by exact event type and single-level
// wildcard, enqueues one task per subscription, and returns immediately.
// Each task runs a bounded retry loop (1s/5s/25s backoff, four attempts
// total) of signed HTTP POSTs, logging every attempt to the delivery
// ledger and capturing exhausted events as dead letters.
//
// Delivery is best effort: the queue is not persisted, so tasks queued or
// in flight when the process exits are lost.
package webhooks

// Package notify provides an in-process notification hub with
// subscriber-owned cleanup.
//
// A Hub maps event keys to ordered sets of listeners. Register returns a
// release handle (a zero-argument, idempotent func) bound to exactly one
// registration. Listeners that implement the optional CleanupRegistrar
// capability receive their own release handle at registration time, so the
// listener itself decides when to unregister (timeout, external signal,
// condition) instead of the publisher.
//
// # Dispatch
//
// Notify takes an ordered snapshot of the event's listeners before invoking
// any of them. Registrations and releases performed during a dispatch (by
// the dispatched listeners themselves or concurrently) affect only future
// Notify calls, never the snapshot already being iterated. A listener that
// fails (error return or panic) never prevents dispatch to its siblings;
// failures are handed to the hub's Reporter and swallowed.
//
// # Concurrency
//
// A Hub is safe for concurrent use. A single mutex guards the registry;
// listener invocation happens outside of it.
package notify

// Package scheduler runs the firing loop for the active schedule set.
//
// # Overview
//
// The Runtime owns a cron engine built from an immutable schedule set, a
// bounded queue, and a worker pool that executes shell commands. Due jobs
// are enqueued by the cron engine and drained by the workers; a full queue
// drops the firing and logs a warning rather than blocking the engine.
//
// # Reloads
//
// The Runtime never edits the engine in place. A reload hands it a complete
// replacement set through Swap, and the engine is discarded and rebuilt.
// Firings already queued or in flight keep the command and timeout they
// were enqueued with.
//
// # Lifecycle
//
// Run blocks, polling the reload coordinator on a fixed cadence, until its
// context is cancelled. Shutdown stops the engine and waits for in-flight
// commands, which keep racing their own timeouts.
package scheduler

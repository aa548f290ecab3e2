// Package journal persists a bounded, append-only history of queue
// events (processed, overweight, executed, reaped) with checksummed
// records, sequential reads, and trimming. It backs the /v1/events
// endpoint and survives restarts alongside the queue state.
package journal

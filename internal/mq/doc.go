// Package mq implements the weight-bounded, multi-origin message queue
// engine at the heart of the runtime.
//
// # Overview
//
// Messages are enqueued per origin into fixed-capacity pages persisted
// in Pebble. A per-origin book tracks the live page window and message
// aggregates, and books with pending work are linked into a circular
// ready ring used for round-robin servicing. Service(limit) drains
// origins against a weight meter through an injected Handler, stopping
// when the budget is exhausted, the ring empties, or a full fairness
// pass makes no progress. Processing is exactly resumable: a stopped
// cycle leaves every undrained message at its queue position.
//
// Key layout (lexicographically ordered for range scans):
//   - mq/book/{origin}                 per-origin ledger + ring links
//   - mq/page/{origin}/{index_be4}     page header + length-prefixed heap
//   - mq/ring/head, mq/ring/size       ready ring head pointer and size
//   - mq/ow/{handle}                   overweight entries (ULID handles)
//   - mq/owix/{origin}/{handle}        per-origin overweight index
//   - mq/quar/{origin}/{index_be4}     quarantined (corrupt) pages
//
// Service and ExecuteOverweight are non-reentrant; a token acquired at
// entry and released on every exit path rejects interleaved calls.
// Enqueue serializes under its own mutex.
package mq

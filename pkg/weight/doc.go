// Package weight defines the abstract execution-cost unit consumed by
// message processing and the per-invocation Meter that bounds it.
//
// A Meter pairs a fixed limit with a monotonically growing consumed
// counter. It is created fresh for every service invocation and never
// persisted; durable state lives in the queue engine itself.
package weight

// Package runtime wires storage, config, the queue engine, and metrics
// into a single-node mqd instance. It exposes Open/Close, basic health
// checks, and accessors used by the HTTP server and CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.FromConfig(cfg))
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	_ = rt.Engine().Enqueue(context.Background(), "para-1000", []byte("hello"))
//	rep, _ := rt.Engine().Service(context.Background(), 1<<20)
package runtime

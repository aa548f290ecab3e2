// Package httpserver provides the JSON/REST surface for mqd: enqueue,
// service, footprint and overweight administration, plus health and
// Prometheus metrics endpoints.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.FromConfig(config.Default()))
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver

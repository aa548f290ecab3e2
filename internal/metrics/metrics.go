// Package metrics exposes Prometheus collectors for the queue engine
// and its storage layer. A Collector implements both mq.EventSink and
// pebblestore.MetricsHook, so one instance observes the whole pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

// Collector holds all mqd application metrics on a dedicated registry.
type Collector struct {
	reg *prometheus.Registry

	enqueued    *prometheus.CounterVec
	processed   *prometheus.CounterVec
	weightUsed  prometheus.Counter
	overweight  *prometheus.CounterVec
	owExecuted  *prometheus.CounterVec
	pagesReaped *prometheus.CounterVec

	storeOpSeconds *prometheus.HistogramVec
	storeOpBytes   *prometheus.CounterVec
}

// New builds a Collector with every collector registered.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_messages_enqueued_total",
			Help: "Messages admitted to the queue, by origin.",
		}, []string{"origin"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_messages_processed_total",
			Help: "Messages successfully processed, by origin.",
		}, []string{"origin"}),
		weightUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqd_weight_consumed_total",
			Help: "Total weight charged for processed messages.",
		}),
		overweight: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_messages_overweight_total",
			Help: "Messages parked in the overweight store, by origin.",
		}, []string{"origin"}),
		owExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_overweight_executions_total",
			Help: "Manual overweight executions, by result.",
		}, []string{"result"}),
		pagesReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_pages_reaped_total",
			Help: "Drained storage pages reclaimed, by origin.",
		}, []string{"origin"}),
		storeOpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mqd_store_op_duration_seconds",
			Help:    "Storage operation latency, by operation.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"op"}),
		storeOpBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqd_store_op_bytes_total",
			Help: "Bytes moved through storage operations, by operation.",
		}, []string{"op"}),
	}
	c.reg.MustRegister(
		c.enqueued, c.processed, c.weightUsed, c.overweight,
		c.owExecuted, c.pagesReaped, c.storeOpSeconds, c.storeOpBytes,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// MessageEnqueued records an admitted message. Called by the API layer;
// the engine itself has no enqueue event.
func (c *Collector) MessageEnqueued(origin string) {
	c.enqueued.WithLabelValues(origin).Inc()
}

// MessageProcessed implements mq.EventSink.
func (c *Collector) MessageProcessed(origin string, size int, used weight.Weight) {
	c.processed.WithLabelValues(origin).Inc()
	c.weightUsed.Add(float64(used))
}

// MessageOverweight implements mq.EventSink.
func (c *Collector) MessageOverweight(origin, handle string, size int, reason string) {
	c.overweight.WithLabelValues(origin).Inc()
}

// OverweightExecuted implements mq.EventSink.
func (c *Collector) OverweightExecuted(handle string, ok bool, used weight.Weight) {
	result := "failure"
	if ok {
		result = "success"
		c.weightUsed.Add(float64(used))
	}
	c.owExecuted.WithLabelValues(result).Inc()
}

// PageReaped implements mq.EventSink.
func (c *Collector) PageReaped(origin string, index uint32) {
	c.pagesReaped.WithLabelValues(origin).Inc()
}

// ObserveWrite implements pebblestore.MetricsHook.
func (c *Collector) ObserveWrite(elapsed time.Duration, bytes int) {
	c.storeOpSeconds.WithLabelValues("write").Observe(elapsed.Seconds())
	c.storeOpBytes.WithLabelValues("write").Add(float64(bytes))
}

// ObserveRead implements pebblestore.MetricsHook.
func (c *Collector) ObserveRead(elapsed time.Duration, bytes int) {
	c.storeOpSeconds.WithLabelValues("read").Observe(elapsed.Seconds())
	c.storeOpBytes.WithLabelValues("read").Add(float64(bytes))
}

// ObserveBatchCommit implements pebblestore.MetricsHook.
func (c *Collector) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	c.storeOpSeconds.WithLabelValues("commit").Observe(elapsed.Seconds())
	c.storeOpBytes.WithLabelValues("commit").Add(float64(bytes))
}

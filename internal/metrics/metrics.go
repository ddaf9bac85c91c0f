// ============================================================================
// Batchkit Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose batch orchestrator metrics for Prometheus.
//
// Metric Categories:
//
//   1. Work item counters - cumulative, monotonically increasing:
//      - batchkit_work_items_stolen_total
//      - batchkit_work_items_succeeded_total
//      - batchkit_work_items_failed_total
//      - batchkit_work_items_requeued_total
//      - batchkit_batches_completed_total
//      - batchkit_batches_canceled_total
//
//   2. Performance (Histogram):
//      - batchkit_work_item_latency_seconds
//
//   3. Status (Gauge):
//      - batchkit_work_items_queued
//      - batchkit_work_items_in_progress
//      - batchkit_endpoint_managers_active
//      - batchkit_endpoint_managers_retired
//
// Prometheus Query Examples:
//
//   # Work items per minute
//   rate(batchkit_work_items_succeeded_total[1m])
//
//   # 95th percentile latency
//   histogram_quantile(0.95, batchkit_work_item_latency_seconds_bucket)
//
//   # Failure rate
//   rate(batchkit_work_items_failed_total[5m]) / rate(batchkit_work_items_stolen_total[5m])
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus, on the port passed to
//   StartServer (the runtime config's metrics.port; there is no built-in
//   default).
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for one orchestrator process.
type Collector struct {
	workItemsStolen     prometheus.Counter
	workItemsSucceeded  prometheus.Counter
	workItemsFailed     prometheus.Counter
	workItemsRequeued   prometheus.Counter
	batchesCompleted    prometheus.Counter
	batchesCanceled     prometheus.Counter

	workItemLatency prometheus.Histogram

	workItemsQueued      prometheus.Gauge
	workItemsInProgress  prometheus.Gauge
	endpointManagersUp   prometheus.Gauge
	endpointManagersOld  prometheus.Gauge
}

// NewCollector creates a new metrics collector and registers every metric
// with the default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		workItemsStolen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_work_items_stolen_total",
			Help: "Total number of work items handed out via StealWork",
		}),
		workItemsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_work_items_succeeded_total",
			Help: "Total number of work items that completed successfully",
		}),
		workItemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_work_items_failed_total",
			Help: "Total number of work item attempts that failed",
		}),
		workItemsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_work_items_requeued_total",
			Help: "Total number of work items put back on the queue for a retry",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_batches_completed_total",
			Help: "Total number of batches that ran to completion",
		}),
		batchesCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batchkit_batches_canceled_total",
			Help: "Total number of batches ended early via cancellation",
		}),
		workItemLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "batchkit_work_item_latency_seconds",
			Help:    "Wall-clock time a work item spent between being stolen and its outcome being reported",
			Buckets: prometheus.DefBuckets,
		}),
		workItemsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchkit_work_items_queued",
			Help: "Current number of work items waiting to be stolen",
		}),
		workItemsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchkit_work_items_in_progress",
			Help: "Current number of work items checked out by an endpoint manager",
		}),
		endpointManagersUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchkit_endpoint_managers_active",
			Help: "Current number of live endpoint managers",
		}),
		endpointManagersOld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchkit_endpoint_managers_retired",
			Help: "Number of endpoint manager names retired since the orchestrator started",
		}),
	}

	prometheus.MustRegister(
		c.workItemsStolen,
		c.workItemsSucceeded,
		c.workItemsFailed,
		c.workItemsRequeued,
		c.batchesCompleted,
		c.batchesCanceled,
		c.workItemLatency,
		c.workItemsQueued,
		c.workItemsInProgress,
		c.endpointManagersUp,
		c.endpointManagersOld,
	)

	return c
}

// RecordStolen records a work item being handed to an endpoint manager.
func (c *Collector) RecordStolen() {
	c.workItemsStolen.Inc()
}

// RecordSucceeded records a successful work item outcome, along with the
// latency since it was stolen.
func (c *Collector) RecordSucceeded(latencySeconds float64) {
	c.workItemsSucceeded.Inc()
	c.workItemLatency.Observe(latencySeconds)
}

// RecordFailed records a failed work item attempt.
func (c *Collector) RecordFailed() {
	c.workItemsFailed.Inc()
}

// RecordRequeued records a work item being put back on the queue for retry.
func (c *Collector) RecordRequeued() {
	c.workItemsRequeued.Inc()
}

// RecordBatchCompleted records a batch running to completion.
func (c *Collector) RecordBatchCompleted() {
	c.batchesCompleted.Inc()
}

// RecordBatchCanceled records a batch ending early via cancellation.
func (c *Collector) RecordBatchCanceled() {
	c.batchesCanceled.Inc()
}

// UpdateQueueStats refreshes the point-in-time queue/in-progress gauges.
func (c *Collector) UpdateQueueStats(queued, inProgress int) {
	c.workItemsQueued.Set(float64(queued))
	c.workItemsInProgress.Set(float64(inProgress))
}

// UpdateManagerStats refreshes the point-in-time endpoint manager gauges.
func (c *Collector) UpdateManagerStats(active, retired int) {
	c.endpointManagersUp.Set(float64(active))
	c.endpointManagersOld.Set(float64(retired))
}

// StartServer starts the Prometheus metrics HTTP server on port, serving
// /metrics in the OpenMetrics / Prometheus text format.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}

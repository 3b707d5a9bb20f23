package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics;
// components treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Solana RPC
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	// Polling
	blocksFetchedTotal *prometheus.CounterVec
	slotsSkippedTotal  *prometheus.CounterVec
	windowRetriesTotal *prometheus.CounterVec
	cursorSlot         *prometheus.GaugeVec
	slotsPerWindow     *prometheus.HistogramVec
	transactionsTotal  *prometheus.CounterVec

	// Discovery and subscriptions
	discoveredSlotsTotal      *prometheus.CounterVec
	subscriptionNotifications *prometheus.CounterVec

	// Durable polling
	pollWorkflowDuration *prometheus.HistogramVec

	// Cursor store
	cursorStoreOpsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// Sinks
	sinkMessagesPublished *prometheus.CounterVec
	sinkPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		blocksFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_blocks_fetched_total",
				Help: "Total number of blocks fetched and handed to handlers",
			},
			[]string{"source"},
		),
		slotsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_slots_skipped_total",
				Help: "Total number of slots skipped because the block could not be fetched",
			},
			[]string{"source", "reason"},
		),
		windowRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_window_retries_total",
				Help: "Total number of poll windows left in place because listing failed",
			},
			[]string{"endpoint"},
		),
		cursorSlot: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "slotwatch_cursor_slot",
				Help: "Current lower bound of the poll window",
			},
			[]string{"key"},
		),
		slotsPerWindow: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slotwatch_slots_per_window",
				Help:    "Number of produced slots listed per poll window",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"endpoint"},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_transactions_total",
				Help: "Total number of transactions reported, by encoding variant",
			},
			[]string{"variant"},
		),

		discoveredSlotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_discovered_slots_total",
				Help: "Total number of slots learned from the discovery overlay",
			},
			[]string{"kind"},
		),
		subscriptionNotifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_subscription_notifications_total",
				Help: "Total number of push subscription notifications by outcome",
			},
			[]string{"status"},
		),

		pollWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_workflow_duration_seconds",
				Help:    "Duration of poll workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		cursorStoreOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_cursor_store_operations_total",
				Help: "Total number of cursor store operations",
			},
			[]string{"operation", "backend", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		sinkMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotwatch_sink_messages_published_total",
				Help: "Total number of block events published to downstream sinks",
			},
			[]string{"sink", "status"},
		),
		sinkPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slotwatch_sink_publish_duration_seconds",
				Help:    "Duration of sink publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"sink"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordBlockFetched records a block handed to the handler chain.
func (m *Metrics) RecordBlockFetched(source string) {
	m.blocksFetchedTotal.WithLabelValues(source).Inc()
}

// RecordSlotSkipped records a slot whose block could not be fetched.
func (m *Metrics) RecordSlotSkipped(source, reason string) {
	m.slotsSkippedTotal.WithLabelValues(source, reason).Inc()
}

// RecordWindowRetry records a window that will be polled again.
func (m *Metrics) RecordWindowRetry(endpoint string) {
	m.windowRetriesTotal.WithLabelValues(endpoint).Inc()
}

// SetCursor publishes the current cursor value.
func (m *Metrics) SetCursor(key string, slot uint64) {
	m.cursorSlot.WithLabelValues(key).Set(float64(slot))
}

// RecordSlotsPerWindow records how many produced slots a window contained.
func (m *Metrics) RecordSlotsPerWindow(endpoint string, count int) {
	m.slotsPerWindow.WithLabelValues(endpoint).Observe(float64(count))
}

// RecordTransaction records one reported transaction by variant.
func (m *Metrics) RecordTransaction(variant string) {
	m.transactionsTotal.WithLabelValues(variant).Inc()
}

// RecordDiscovered records entries pulled from the discovery table.
func (m *Metrics) RecordDiscovered(kind string, count int) {
	m.discoveredSlotsTotal.WithLabelValues(kind).Add(float64(count))
}

// RecordSubscriptionNotification records a push notification outcome.
func (m *Metrics) RecordSubscriptionNotification(status string) {
	m.subscriptionNotifications.WithLabelValues(status).Inc()
}

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.pollWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordCursorStoreOp records a cursor store load or save.
func (m *Metrics) RecordCursorStoreOp(operation, backend string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.cursorStoreOpsTotal.WithLabelValues(operation, backend, status).Inc()
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSinkPublish records a sink publish operation.
func (m *Metrics) RecordSinkPublish(sink, status string, duration float64) {
	m.sinkMessagesPublished.WithLabelValues(sink, status).Inc()
	m.sinkPublishDuration.WithLabelValues(sink).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}

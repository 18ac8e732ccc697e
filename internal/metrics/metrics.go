package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 本服务的 Prometheus 采集器
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asset_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_ledger",
			Subsystem: "core",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asset_ledger",
			Subsystem: "core",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger operations including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	outboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_ledger",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages processed by delivery result.",
		},
		[]string{"result"},
	)

	expiredAssets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_ledger",
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Assets moved to expired by the sweeper.",
		},
		[]string{"asset_type"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		operations,
		operationDuration,
		outboxDelivered,
		expiredAssets,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation 记录一次核心操作，err 为 nil 记 success
func RecordOperation(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	operations.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func RecordOutbox(result string) {
	outboxDelivered.WithLabelValues(result).Inc()
}

func RecordExpired(assetType string, n int) {
	if n <= 0 {
		return
	}
	expiredAssets.WithLabelValues(assetType).Add(float64(n))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 托管操作耗时与结果（result 为错误码，成功为 ok）
	EscrowOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_operation_duration_seconds",
			Help:    "Escrow state machine operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation", "result"},
	)

	EscrowOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_operation_count",
			Help: "Total number of escrow operations by result",
		},
		[]string{"operation", "result"},
	)

	// 资金流动（基础单位），direction: deposit / release
	EscrowFundsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_funds_moved_units_total",
			Help: "Token base units moved into or out of escrow vaults",
		},
		[]string{"direction"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Outbox 发布计数，status: sent / failed / dead_lettered
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Outbox events processed by the dispatcher",
		},
		[]string{"routing_key", "status"},
	)

	// 审计消费者处理的事件，result: recorded / duplicate / invalid
	EventConsumedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_event_consumed_count",
			Help: "Escrow events consumed from the bus",
		},
		[]string{"routing_key", "result"},
	)
)

// RecordEscrowOperation 记录托管操作
func RecordEscrowOperation(operation, result string, duration time.Duration) {
	EscrowOperationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	EscrowOperationCount.WithLabelValues(operation, result).Inc()
}

// AddFundsMoved 累加资金流动
func AddFundsMoved(direction string, amount uint64) {
	EscrowFundsMoved.WithLabelValues(direction).Add(float64(amount))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(sql string) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementOutboxPublish 记录 outbox 事件处理结果
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// IncrementEventConsumed 记录消费到的事件
func IncrementEventConsumed(routingKey, result string) {
	EventConsumedCount.WithLabelValues(routingKey, result).Inc()
}

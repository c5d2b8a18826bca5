package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 里程碑重算结果计数
	MilestoneRecomputeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_recompute_total",
			Help: "Total number of milestone recomputations by outcome",
		},
		[]string{"outcome"}, // outcome: changed, unchanged, skipped, error
	)

	// Webhook 事件计数
	WebhookEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_webhook_events_total",
			Help: "Total number of task change events received",
		},
		[]string{"type", "result"}, // result: triggered, ignored, invalid_table
	)

	// 异步派发计数
	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_dispatch_total",
			Help: "Total number of best-effort recompute dispatches",
		},
		[]string{"target", "status"}, // status: success, failed, dropped
	)

	// 认证失败计数
	AuthFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of rejected trigger callers",
		},
		[]string{"scope", "reason"},
	)

	// 批量对账耗时（秒）
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_batch_duration_seconds",
			Help:    "Reconciliation batch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"kind"}, // kind: milestone, task, project, sweep
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"table"},
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
)

// IncrementRecompute 记录一次重算结果
func IncrementRecompute(outcome string) {
	MilestoneRecomputeCount.WithLabelValues(outcome).Inc()
}

// IncrementWebhookEvent 记录一次 webhook 事件
func IncrementWebhookEvent(eventType, result string) {
	WebhookEventCount.WithLabelValues(eventType, result).Inc()
}

// IncrementDispatch 记录一次派发结果
func IncrementDispatch(target, status string) {
	DispatchCount.WithLabelValues(target, status).Inc()
}

// IncrementAuthFailure 记录一次认证失败
func IncrementAuthFailure(scope, reason string) {
	AuthFailureCount.WithLabelValues(scope, reason).Inc()
}

// RecordBatchDuration 记录批量对账耗时
func RecordBatchDuration(kind string, duration time.Duration) {
	BatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(table string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(table).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 路由指标
	routeRequestsTotal *prometheus.CounterVec
	routeDuration      *prometheus.HistogramVec
	budgetWarnings     *prometheus.CounterVec

	// 模型调用指标
	modelAttemptsTotal *prometheus.CounterVec
	modelLatency       *prometheus.HistogramVec
	fallbackDepth      prometheus.Histogram
	tokensUsed         *prometheus.CounterVec
	costUnits          *prometheus.CounterVec

	// 检索与预取
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  prometheus.Histogram
	prefetchInserted  *prometheus.CounterVec

	// 缓存与后台任务
	cacheEntries    *prometheus.GaugeVec
	backgroundTasks *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 路由指标
	c.routeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Total number of routed requests by cache layer",
		},
		[]string{"layer", "tier", "status"},
	)

	c.routeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "End-to-end route duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"layer"},
	)

	c.budgetWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_warnings_total",
			Help:      "Requests that exceeded a budget",
		},
		[]string{"tier", "policy"},
	)

	// 模型调用指标
	c.modelAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_attempts_total",
			Help:      "Model invocations along the fallback chain",
		},
		[]string{"model", "outcome"},
	)

	c.modelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_attempt_duration_seconds",
			Help:      "Model invocation latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	c.fallbackDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "Number of attempts needed per routed request",
			Buckets:   []float64{1, 2, 3},
		},
	)

	c.tokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	c.costUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_units_total",
			Help:      "Total cost units charged",
		},
		[]string{"model"},
	)

	// 检索与预取
	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"outcome"},
	)

	c.retrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned by hybrid retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	c.prefetchInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_placeholders_total",
			Help:      "Prefetch placeholders inserted into the response cache",
		},
		[]string{"tier"},
	)

	// 缓存与后台任务
	c.cacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries per cache",
		},
		[]string{"cache"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_breaker_state",
			Help:      "Circuit breaker state per model (0=closed, 1=open, 2=half-open)",
		},
		[]string{"model"},
	)

	c.backgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Completed background tasks",
		},
		[]string{"task", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// HTTP
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 路由
// =============================================================================

// RecordRoute 记录一次路由，layer 为命中的缓存层，未命中为 none
func (c *Collector) RecordRoute(layer, tier string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.routeRequestsTotal.WithLabelValues(layer, tier, status).Inc()
	c.routeDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

// RecordBudgetWarning 记录预算超限
func (c *Collector) RecordBudgetWarning(tier, policy string) {
	c.budgetWarnings.WithLabelValues(tier, policy).Inc()
}

// RecordModelAttempt 记录回退链上的一次调用
func (c *Collector) RecordModelAttempt(model string, succeeded bool, latency time.Duration) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	c.modelAttemptsTotal.WithLabelValues(model, outcome).Inc()
	c.modelLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordFallbackDepth 记录一次请求用掉的尝试次数
func (c *Collector) RecordFallbackDepth(attempts int) {
	c.fallbackDepth.Observe(float64(attempts))
}

// RecordUsage 记录 Token 与成本
func (c *Collector) RecordUsage(model string, promptTokens, completionTokens int, cost float64) {
	c.tokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.tokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	if cost > 0 {
		c.costUnits.WithLabelValues(model).Add(cost)
	}
}

// =============================================================================
// 检索、预取、缓存
// =============================================================================

// RecordRetrieval 记录检索耗时与结果数
func (c *Collector) RecordRetrieval(err error, results int, duration time.Duration) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case results == 0:
		outcome = "empty"
	}
	c.retrievalDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	c.retrievalResults.Observe(float64(results))
}

// RecordPrefetch 记录插入的预取占位数
func (c *Collector) RecordPrefetch(tier string, inserted int) {
	if inserted > 0 {
		c.prefetchInserted.WithLabelValues(tier).Add(float64(inserted))
	}
}

// SetCacheEntries 更新缓存条目数
func (c *Collector) SetCacheEntries(cache string, n int) {
	c.cacheEntries.WithLabelValues(cache).Set(float64(n))
}

// SetBreakerState 记录模型熔断状态
func (c *Collector) SetBreakerState(model string, state int) {
	c.breakerState.WithLabelValues(model).Set(float64(state))
}

// RecordBackgroundTask 记录后台任务结束，可直接作为 pool.WithCompletionHook 的回调
func (c *Collector) RecordBackgroundTask(name string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.backgroundTasks.WithLabelValues(name, status).Inc()
}

// =============================================================================
// 数据库
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.routeRequestsTotal)
	assert.NotNil(t, collector.modelAttemptsTotal)
	assert.NotNil(t, collector.fallbackDepth)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/test", 503, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "5xx")))
}

func TestCollector_RecordRoute(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRoute("exact", "pro", nil, time.Millisecond)
	collector.RecordRoute("exact", "pro", nil, time.Millisecond)
	collector.RecordRoute("none", "free", errors.New("boom"), time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.routeRequestsTotal.WithLabelValues("exact", "pro", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.routeRequestsTotal.WithLabelValues("none", "free", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.routeDuration))
}

func TestCollector_ModelAttempts(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordModelAttempt("gpt-4o", false, 200*time.Millisecond)
	collector.RecordModelAttempt("gpt-4o-mini", true, 100*time.Millisecond)
	collector.RecordFallbackDepth(2)
	collector.RecordUsage("gpt-4o-mini", 100, 50, 0.2)
	collector.RecordUsage("gpt-4o-mini", 10, 5, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.modelAttemptsTotal.WithLabelValues("gpt-4o", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.modelAttemptsTotal.WithLabelValues("gpt-4o-mini", "success")))
	assert.Equal(t, 110.0, testutil.ToFloat64(collector.tokensUsed.WithLabelValues("gpt-4o-mini", "prompt")))
	assert.Equal(t, 55.0, testutil.ToFloat64(collector.tokensUsed.WithLabelValues("gpt-4o-mini", "completion")))
	assert.InDelta(t, 0.2, testutil.ToFloat64(collector.costUnits.WithLabelValues("gpt-4o-mini")), 1e-9)
}

func TestCollector_RetrievalPrefetchCache(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRetrieval(nil, 0, time.Millisecond)
	collector.RecordRetrieval(nil, 3, time.Millisecond)
	collector.RecordRetrieval(errors.New("timeout"), 0, time.Second)
	assert.Equal(t, 3, testutil.CollectAndCount(collector.retrievalDuration))

	collector.RecordPrefetch("enterprise", 3)
	collector.RecordPrefetch("free", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.prefetchInserted.WithLabelValues("enterprise")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.prefetchInserted))

	collector.SetCacheEntries("response", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(collector.cacheEntries.WithLabelValues("response")))

	collector.SetBreakerState("gpt-4o", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.breakerState.WithLabelValues("gpt-4o")))

	collector.RecordBudgetWarning("free", "soft")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.budgetWarnings.WithLabelValues("free", "soft")))
}

func TestCollector_BackgroundTasks(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordBackgroundTask("feedback", nil)
	collector.RecordBackgroundTask("feedback", errors.New("db down"))
	collector.RecordBackgroundTask("prefetch", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.backgroundTasks.WithLabelValues("feedback", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.backgroundTasks.WithLabelValues("feedback", "error")))
}

func TestCollector_Database(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)
	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("POST", "/api/v1/route", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordRoute("semantic", "pro", nil, 10*time.Millisecond)
			collector.RecordModelAttempt("gpt-4o", true, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/route", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.routeRequestsTotal.WithLabelValues("semantic", "pro", "ok")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(502))
	assert.Equal(t, "unknown", statusCode(100))
}

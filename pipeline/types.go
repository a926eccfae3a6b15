package pipeline

import (
	"context"
	"time"

	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/llm/cache"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/rag"
)

// BudgetPolicy 预算超限时的处理方式
type BudgetPolicy string

const (
	// BudgetSoft 只在结果中附带告警
	BudgetSoft BudgetPolicy = "soft"
	// BudgetHard 直接拒绝请求
	BudgetHard BudgetPolicy = "hard"
)

// ParseBudgetPolicy 未知值按 soft 处理
func ParseBudgetPolicy(s string) BudgetPolicy {
	if BudgetPolicy(s) == BudgetHard {
		return BudgetHard
	}
	return BudgetSoft
}

// DefaultAgentType 未指定 agent 类型时使用
const DefaultAgentType = "general"

// RouteRequest 一次路由请求
type RouteRequest struct {
	AgentType string          `json:"agent_type"`
	Query     string          `json:"query"`
	UserID    string          `json:"user_id,omitempty"`
	Priority  router.Priority `json:"priority,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// RouteResult 路由结果
type RouteResult struct {
	Response      string              `json:"response"`
	ModelUsed     string              `json:"model_used"`
	CacheHit      cache.Layer         `json:"cache_hit"`
	Similarity    float64             `json:"similarity,omitempty"`
	Citations     []string            `json:"citations,omitempty"`
	CostUnits     float64             `json:"cost_units"`
	PromptTokens  int                 `json:"prompt_tokens,omitempty"`
	Attempts      []llm.AttemptRecord `json:"attempts,omitempty"`
	Tier          tier.Tier           `json:"tier"`
	BudgetWarning string              `json:"budget_warning,omitempty"`
	SessionID     string              `json:"session_id"`
	Latency       time.Duration       `json:"latency"`
}

// CachedResponse 写入响应缓存的载荷
type CachedResponse struct {
	Content   string   `json:"content"`
	Model     string   `json:"model"`
	Citations []string `json:"citations,omitempty"`
}

// FeedbackInput 用户对一次执行的评价
type FeedbackInput struct {
	SessionID       string   `json:"session_id"`
	UserID          string   `json:"user_id,omitempty"`
	AgentType       string   `json:"agent_type"`
	ModelUsed       string   `json:"model_used"`
	Rating          *int     `json:"rating,omitempty"`
	WasSuccessful   bool     `json:"was_successful"`
	IterationCount  *int     `json:"iteration_count,omitempty"`
	ExecutionTimeMs *int64   `json:"execution_time_ms,omitempty"`
	CostUnits       *float64 `json:"cost_units,omitempty"`
}

// Selector 模型选择，由 *router.ModelSelector 实现
type Selector interface {
	SelectModel(ctx context.Context, agentType string, p router.Priority, userID string) router.Recommendation
}

// Retriever 检索增强，由 *rag.HybridRetriever 实现
type Retriever interface {
	AugmentContext(ctx context.Context, query string) (*rag.AugmentedContext, error)
}

// Spawner 后台任务执行器，由 *pool.GoroutinePool 实现
type Spawner interface {
	Go(ctx context.Context, name string, task func(ctx context.Context) error) bool
}

// Metrics 路由指标，由 *metrics.Collector 实现
type Metrics interface {
	RecordRoute(layer, tier string, err error, duration time.Duration)
	RecordBudgetWarning(tier, policy string)
	RecordModelAttempt(model string, succeeded bool, latency time.Duration)
	RecordFallbackDepth(attempts int)
	RecordUsage(model string, promptTokens, completionTokens int, cost float64)
	RecordRetrieval(err error, results int, duration time.Duration)
	SetCacheEntries(cache string, n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordRoute(string, string, error, time.Duration) {}
func (noopMetrics) RecordBudgetWarning(string, string)               {}
func (noopMetrics) RecordModelAttempt(string, bool, time.Duration)   {}
func (noopMetrics) RecordFallbackDepth(int)                          {}
func (noopMetrics) RecordUsage(string, int, int, float64)            {}
func (noopMetrics) RecordRetrieval(error, int, time.Duration)        {}
func (noopMetrics) SetCacheEntries(string, int)                      {}

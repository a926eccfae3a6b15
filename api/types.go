package api

import (
	"time"

	"github.com/BaSui01/inferflow/llm"
)

// =============================================================================
// 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 路由
// =============================================================================

// RouteRequest 路由请求
// @Description 一次查询的路由请求
type RouteRequest struct {
	AgentType string `json:"agent_type,omitempty" example:"general"`
	Query     string `json:"query" example:"what is a goroutine"`
	UserID    string `json:"user_id,omitempty"`
	Priority  string `json:"priority,omitempty" example:"balanced"`
	SessionID string `json:"session_id,omitempty"`
}

// RouteResponse 路由结果
// @Description 路由结果，cache_hit 为 none/exact/fuzzy/semantic
type RouteResponse struct {
	Response      string              `json:"response"`
	ModelUsed     string              `json:"model_used"`
	CacheHit      string              `json:"cache_hit"`
	Similarity    float64             `json:"similarity,omitempty"`
	Citations     []string            `json:"citations,omitempty"`
	CostUnits     float64             `json:"cost_units"`
	PromptTokens  int                 `json:"prompt_tokens,omitempty"`
	Attempts      []llm.AttemptRecord `json:"attempts,omitempty"`
	Tier          string              `json:"tier"`
	BudgetWarning string              `json:"budget_warning,omitempty"`
	SessionID     string              `json:"session_id"`
	LatencyMs     int64               `json:"latency_ms"`
}

// =============================================================================
// 反馈
// =============================================================================

// FeedbackRequest 用户评价
// @Description rating 取值 1..5
type FeedbackRequest struct {
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

// FeedbackResponse 写入后的记录标识
type FeedbackResponse struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// 推荐
// =============================================================================

// RecommendResponse 模型推荐
type RecommendResponse struct {
	AgentType       string   `json:"agent_type"`
	Priority        string   `json:"priority"`
	Model           string   `json:"model"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	EstimatedCost   float64  `json:"estimated_cost"`
	ExpectedQuality float64  `json:"expected_quality"`
	Static          bool     `json:"static"`
	FallbackChain   []string `json:"fallback_chain"`
}

// =============================================================================
// 用户等级
// =============================================================================

// TierUpdateRequest 等级变更请求
type TierUpdateRequest struct {
	Tier string `json:"tier" example:"pro"`
}

// TierUpdateResponse 等级变更结果
type TierUpdateResponse struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

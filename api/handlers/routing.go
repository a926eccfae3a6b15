package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/api"
	"github.com/BaSui01/inferflow/internal/ctxkeys"
	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/pipeline"
	"github.com/BaSui01/inferflow/types"
)

// AdminRole 允许提升等级或修改他人等级的角色
const AdminRole = "admin"

// RoutingService 路由服务，由 *pipeline.Pipeline 实现
type RoutingService interface {
	Route(ctx context.Context, req pipeline.RouteRequest) (*pipeline.RouteResult, error)
	RecordFeedback(ctx context.Context, in pipeline.FeedbackInput) (*feedback.Record, error)
	Recommend(ctx context.Context, agentType string, p router.Priority, userID string) (router.Recommendation, []string)
	SetUserTier(ctx context.Context, userID string, t tier.Tier) error
	UserTier(ctx context.Context, userID string) tier.Tier
}

// =============================================================================
// 🧭 路由接口 Handler
// =============================================================================

// RoutingHandler 路由、反馈、推荐与等级接口
type RoutingHandler struct {
	service         RoutingService
	defaultPriority router.Priority
	trustClaimedID  bool
	logger          *zap.Logger
}

// NewRoutingHandler 创建路由处理器
func NewRoutingHandler(service RoutingService, logger *zap.Logger) *RoutingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingHandler{
		service:         service,
		defaultPriority: router.PriorityBalanced,
		logger:          logger.With(zap.String("handler", "routing")),
	}
}

// WithDefaultPriority 请求未携带 priority 时使用
func (h *RoutingHandler) WithDefaultPriority(p router.Priority) *RoutingHandler {
	h.defaultPriority = p
	return h
}

func (h *RoutingHandler) priority(s string) router.Priority {
	if strings.TrimSpace(s) == "" {
		return h.defaultPriority
	}
	return router.ParsePriority(s)
}

// WithTrustedClientUserID 信任未认证请求自带的 user_id，仅用于上游已完成鉴权的内网部署
func (h *RoutingHandler) WithTrustedClientUserID(trust bool) *RoutingHandler {
	h.trustClaimedID = trust
	return h
}

// Register 挂载到 chi 路由
func (h *RoutingHandler) Register(r chi.Router) {
	r.Post("/api/v1/route", h.HandleRoute)
	r.Post("/api/v1/feedback", h.HandleFeedback)
	r.Get("/api/v1/models/recommend", h.HandleRecommend)
	r.Put("/api/v1/users/{id}/tier", h.HandleSetTier)
}

// resolveUserID 已认证请求以 token 中的用户为准；未认证时自带的 user_id 默认丢弃，按匿名（free）处理
func (h *RoutingHandler) resolveUserID(r *http.Request, claimed string) string {
	if uid, ok := ctxkeys.UserID(r.Context()); ok {
		return uid
	}
	if !h.trustClaimedID {
		return ""
	}
	return strings.TrimSpace(claimed)
}

// HandleRoute 路由一次查询
// @Summary 路由查询
// @Description 按用户等级查缓存、检索上下文并调用模型回退链
// @Tags 路由
// @Accept json
// @Produce json
// @Param request body api.RouteRequest true "路由请求"
// @Success 200 {object} api.RouteResponse "路由结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 402 {object} Response "预算不足"
// @Failure 502 {object} Response "全部模型失败"
// @Security BearerAuth
// @Router /api/v1/route [post]
func (h *RoutingHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RouteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "query is required"), h.logger)
		return
	}

	res, err := h.service.Route(r.Context(), pipeline.RouteRequest{
		AgentType: req.AgentType,
		Query:     req.Query,
		UserID:    h.resolveUserID(r, req.UserID),
		Priority:  h.priority(req.Priority),
		SessionID: req.SessionID,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.RouteResponse{
		Response:      res.Response,
		ModelUsed:     res.ModelUsed,
		CacheHit:      string(res.CacheHit),
		Similarity:    res.Similarity,
		Citations:     res.Citations,
		CostUnits:     res.CostUnits,
		PromptTokens:  res.PromptTokens,
		Attempts:      res.Attempts,
		Tier:          res.Tier.String(),
		BudgetWarning: res.BudgetWarning,
		SessionID:     res.SessionID,
		LatencyMs:     res.Latency.Milliseconds(),
	})
}

// HandleFeedback 追加一条用户评价
// @Summary 提交反馈
// @Tags 路由
// @Accept json
// @Produce json
// @Param request body api.FeedbackRequest true "反馈"
// @Success 200 {object} api.FeedbackResponse "已写入"
// @Failure 400 {object} Response "无效请求"
// @Security BearerAuth
// @Router /api/v1/feedback [post]
func (h *RoutingHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.FeedbackRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	rec, err := h.service.RecordFeedback(r.Context(), pipeline.FeedbackInput{
		SessionID:       req.SessionID,
		UserID:          h.resolveUserID(r, req.UserID),
		AgentType:       req.AgentType,
		ModelUsed:       req.ModelUsed,
		Rating:          req.Rating,
		WasSuccessful:   req.WasSuccessful,
		IterationCount:  req.IterationCount,
		ExecutionTimeMs: req.ExecutionTimeMs,
		CostUnits:       req.CostUnits,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.FeedbackResponse{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		CreatedAt: rec.CreatedAt,
	})
}

// HandleRecommend 查询推荐模型
// @Summary 模型推荐
// @Tags 路由
// @Produce json
// @Param agent_type query string false "agent 类型"
// @Param priority query string false "speed|quality|cost|balanced"
// @Param user_id query string false "用户 ID"
// @Success 200 {object} api.RecommendResponse "推荐结果"
// @Security BearerAuth
// @Router /api/v1/models/recommend [get]
func (h *RoutingHandler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentType := strings.TrimSpace(q.Get("agent_type"))
	if agentType == "" {
		agentType = pipeline.DefaultAgentType
	}
	priority := h.priority(q.Get("priority"))

	rec, chain := h.service.Recommend(r.Context(), agentType, priority, h.resolveUserID(r, q.Get("user_id")))

	WriteSuccess(w, api.RecommendResponse{
		AgentType:       agentType,
		Priority:        string(priority),
		Model:           rec.Model,
		Confidence:      rec.Confidence,
		Reasoning:       rec.Reasoning,
		EstimatedCost:   rec.EstimatedCost,
		ExpectedQuality: rec.ExpectedQuality,
		Static:          rec.Static,
		FallbackChain:   chain,
	})
}

// HandleSetTier 变更用户等级
// @Summary 变更用户等级
// @Description 管理员可修改任意用户；普通用户只能降低自己的等级
// @Tags 用户
// @Accept json
// @Produce json
// @Param id path string true "用户 ID"
// @Param request body api.TierUpdateRequest true "目标等级"
// @Success 200 {object} api.TierUpdateResponse "已更新"
// @Failure 400 {object} Response "无效请求"
// @Failure 401 {object} Response "未认证"
// @Failure 403 {object} Response "无权限"
// @Security BearerAuth
// @Router /api/v1/users/{id}/tier [put]
func (h *RoutingHandler) HandleSetTier(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	caller, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteError(w, types.NewError(types.ErrAuthentication, "authentication required"), h.logger)
		return
	}
	admin := ctxkeys.HasRole(r.Context(), AdminRole)
	if caller != userID && !admin {
		WriteError(w, types.NewError(types.ErrForbidden, "cannot change another user's tier"), h.logger)
		return
	}

	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.TierUpdateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	t := tier.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
	if !slices.Contains(tier.Tiers, t) {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "tier must be free, pro or enterprise"), h.logger)
		return
	}

	if !admin && t.Above(h.service.UserTier(r.Context(), userID)) {
		WriteError(w, types.NewError(types.ErrForbidden, "tier upgrades require an administrator"), h.logger)
		return
	}

	if err := h.service.SetUserTier(r.Context(), userID, t); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("user tier changed",
		zap.String("user_id", userID),
		zap.String("tier", t.String()),
		zap.String("changed_by", caller))
	WriteSuccess(w, api.TierUpdateResponse{UserID: userID, Tier: t.String()})
}

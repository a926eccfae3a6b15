package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/llm/budget"
	"github.com/BaSui01/inferflow/llm/cache"
	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/prefetch"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/llm/tokenizer"
	"github.com/BaSui01/inferflow/types"
)

const tracerName = "github.com/BaSui01/inferflow/pipeline"

const defaultSystemPrompt = "You are a helpful assistant. Answer concisely. " +
	"When the context section is present, rely on it and cite entries by their [n] markers."

// Pipeline 路由主流程
type Pipeline struct {
	cfg      Config
	gate     *tier.Gate
	selector Selector
	provider llm.Provider

	feedback   feedback.Store
	users      tier.UserStore
	tracker    *budget.Tracker
	retriever  Retriever
	embedder   cache.Embedder
	prefetcher *prefetch.Prefetcher
	budgeter   *tokenizer.Budgeter
	prices     *router.PriceTable
	spawner    Spawner
	metrics    Metrics

	prompts     map[string]string
	promptCache *cache.PromptCache
	scopes      *scopes

	tracer trace.Tracer
	logger *zap.Logger
}

// New 创建 Pipeline，gate、selector 与 provider 为必需依赖
func New(gate *tier.Gate, selector Selector, provider llm.Provider, opts ...Option) (*Pipeline, error) {
	if gate == nil || selector == nil || provider == nil {
		return nil, errors.New("pipeline: gate, selector and provider are required")
	}

	p := &Pipeline{
		cfg:      DefaultConfig(),
		gate:     gate,
		selector: selector,
		provider: provider,
		prices:   router.DefaultPriceTable(),
		metrics:  noopMetrics{},
		prompts:  map[string]string{"*": defaultSystemPrompt},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	if p.budgeter == nil {
		p.budgeter = tokenizer.NewBudgeter(nil, p.logger)
	}

	promptCache, err := cache.NewPromptCache(p.cfg.PromptCacheSize, p.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: prompt cache: %w", err)
	}
	p.promptCache = promptCache

	p.scopes, err = newScopes(p.cfg.MaxScopes, p.newScope)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cache scopes: %w", err)
	}

	p.tracer = otel.Tracer(tracerName)
	return p, nil
}

func (p *Pipeline) newScope(t tier.Tier, limits tier.Limits) *scope {
	responses := cache.NewResponseCache(limits.ResponseCacheLimit, p.logger)
	opts := []cache.SemanticOption{
		cache.WithSemanticLogger(p.logger),
		cache.WithFuzzyPrecheck(p.cfg.SemanticPrecheck),
		cache.WithSemanticMaxSize(limits.SemanticCacheLimit),
	}
	if p.spawner != nil {
		opts = append(opts, cache.WithSpawner(p.spawner))
	}
	return &scope{
		tier:          t,
		responseLimit: limits.ResponseCacheLimit,
		semanticLimit: limits.SemanticCacheLimit,
		responses:     responses,
		semantic:      cache.NewSemanticCache(responses, p.embedder, opts...),
	}
}

// Route 处理一次请求。缓存、检索、反馈与预取的失败只降级不返回；
// 返回的错误只有参数错误、硬预算超限、无可用模型、全部模型失败与请求取消。
func (p *Pipeline) Route(ctx context.Context, req RouteRequest) (result *RouteResult, err error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "query is required").WithHTTPStatus(http.StatusBadRequest)
	}
	agentType := strings.TrimSpace(req.AgentType)
	if agentType == "" {
		agentType = DefaultAgentType
	}
	userID := strings.TrimSpace(req.UserID)
	priority := router.ParsePriority(string(req.Priority))
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Route", trace.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("priority", string(priority)),
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	t := p.gate.ResolveTier(ctx, userID)
	limits := p.gate.Limits(t)
	sc := p.scopes.get(userID, t, limits)
	span.SetAttributes(attribute.String("tier", t.String()))

	defer func() {
		layer := string(cache.LayerNone)
		if result != nil {
			layer = string(result.CacheHit)
			result.Latency = time.Since(start)
		}
		p.metrics.RecordRoute(layer, t.String(), err, time.Since(start))
		p.metrics.SetCacheEntries("scopes", p.scopes.len())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("cache_hit", layer), attribute.String("model", result.ModelUsed))
	}()

	result = &RouteResult{Tier: t, SessionID: sessionID, CacheHit: cache.LayerNone}

	category := budget.Category(agentType)
	warning, err := p.checkBudget(ctx, userID, t, agentType, category, limits)
	if err != nil {
		return nil, err
	}
	result.BudgetWarning = warning

	if m, ok := p.lookup(ctx, sc, query); ok {
		payload := m.Payload.(CachedResponse)
		result.Response = payload.Content
		result.ModelUsed = payload.Model
		result.Citations = payload.Citations
		result.CacheHit = m.Layer
		result.Similarity = m.Similarity
		p.logger.Debug("cache hit",
			zap.String("layer", string(m.Layer)),
			zap.Float64("similarity", m.Similarity),
			zap.String("session_id", sessionID))
		p.prefetch(ctx, sessionID, query, t, sc)
		return result, nil
	}

	contextText, citations := p.retrieve(ctx, query)
	messages := p.buildMessages(agentType, t, query, contextText)

	rec := p.selector.SelectModel(ctx, agentType, priority, userID)
	chain := router.FallbackChain(rec, t, p.cfg.MaxAttempts)
	if len(chain) == 0 {
		return nil, types.NewError(types.ErrNoModel, fmt.Sprintf("no model available for tier %s", t)).
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	span.SetAttributes(attribute.StringSlice("fallback_chain", chain))

	attempt := llm.Attempt(ctx, chain, p.cfg.MaxAttempts, func(ctx context.Context, model string) (*llm.ChatResponse, error) {
		resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
			TraceID:     sessionID,
			UserID:      userID,
			Model:       model,
			Messages:    messages,
			MaxTokens:   p.cfg.MaxTokens,
			Temperature: p.cfg.Temperature,
			Timeout:     p.cfg.ModelTimeout,
			Metadata:    map[string]string{"agent_type": agentType},
		})
		if err != nil {
			return nil, err
		}
		if _, err := llm.FirstChoice(resp); err != nil {
			return nil, err
		}
		return resp, nil
	})
	for _, a := range attempt.Log {
		p.metrics.RecordModelAttempt(a.Model, a.Succeeded, a.Latency)
	}
	p.metrics.RecordFallbackDepth(len(attempt.Log))
	result.Attempts = attempt.Log

	if attempt.Err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("route cancelled: %w", context.Cause(ctx))
		}
		failed := chain[0]
		if n := len(attempt.Log); n > 0 {
			failed = attempt.Log[n-1].Model
		}
		p.recordFeedback(ctx, newRecord(sessionID, userID, agentType, failed, false, len(attempt.Log), time.Since(start), nil))
		p.logger.Warn("all model attempts failed",
			zap.Strings("models", attempt.Models()),
			zap.String("agent_type", agentType),
			zap.Error(attempt.Err))
		return nil, types.NewError(types.ErrAllModelsFailed,
			fmt.Sprintf("all %d model attempt(s) failed", len(attempt.Log))).
			WithCause(attempt.Err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	resp := attempt.Value
	choice, _ := llm.FirstChoice(resp)
	cost := resp.Usage.Cost
	if cost <= 0 {
		cost = p.prices.EstimateCost(attempt.Model)
	}

	result.Response = choice.Message.Content
	result.ModelUsed = attempt.Model
	result.CostUnits = cost
	result.Citations = citations
	result.PromptTokens = resp.Usage.PromptTokens
	if result.PromptTokens <= 0 {
		// 上游未返回用量时按本地计数器统计
		result.PromptTokens = p.countPromptTokens(messages)
	}
	p.metrics.RecordUsage(attempt.Model, result.PromptTokens, resp.Usage.CompletionTokens, cost)

	sc.responses.Set(query, CachedResponse{Content: result.Response, Model: attempt.Model, Citations: citations})
	sc.semantic.AddEmbedding(ctx, query)

	if p.tracker != nil && tier.ValidUserID(userID) {
		_, _ = p.tracker.Record(ctx, userID, category, cost, limits)
	}
	p.recordFeedback(ctx, newRecord(sessionID, userID, agentType, attempt.Model, true, len(attempt.Log), time.Since(start), &cost))
	p.prefetch(ctx, sessionID, query, t, sc)

	p.logger.Info("request routed",
		zap.String("session_id", sessionID),
		zap.String("tier", t.String()),
		zap.String("model", attempt.Model),
		zap.Int("attempts", len(attempt.Log)),
		zap.Float64("cost_units", cost),
		zap.Int("citations", len(citations)))
	return result, nil
}

// checkBudget 按 agent 类型的静态默认模型估算成本，依次检查个人上限与当日用量
func (p *Pipeline) checkBudget(ctx context.Context, userID string, t tier.Tier, agentType, category string, limits tier.Limits) (string, error) {
	model := router.StaticDefaultFor(agentType).Model
	if !tier.IsModelAllowedForTier(model, t) {
		model = tier.DefaultModel(t)
	}
	estimated := p.prices.EstimateCost(model)

	decision := p.gate.CheckUserBudget(ctx, userID, estimated)
	if decision.Allowed && p.tracker != nil && tier.ValidUserID(userID) {
		decision = p.tracker.Check(ctx, userID, category, estimated, limits)
	}
	if decision.Allowed {
		return "", nil
	}

	p.metrics.RecordBudgetWarning(t.String(), string(p.cfg.BudgetPolicy))
	if p.cfg.BudgetPolicy == BudgetHard {
		return "", types.NewError(types.ErrQuotaExceeded, decision.Message).WithHTTPStatus(http.StatusPaymentRequired)
	}
	p.logger.Info("budget exceeded, continuing under soft policy",
		zap.String("user_id", userID),
		zap.String("message", decision.Message))
	return decision.Message, nil
}

// lookup 精确、模糊、语义三层依次查找，载荷类型不符的条目视为未命中
func (p *Pipeline) lookup(ctx context.Context, sc *scope, query string) (cache.Match, bool) {
	if m, ok := sc.responses.GetMatch(query); ok && isCachedResponse(m) {
		return m, true
	}
	if m, ok := sc.responses.FindBest(query, p.cfg.FuzzyThreshold); ok && isCachedResponse(m) {
		return m, true
	}
	if m, ok := sc.semantic.FindSimilar(ctx, query, p.cfg.SemanticThreshold); ok && isCachedResponse(m) {
		return m, true
	}
	return cache.Match{}, false
}

func isCachedResponse(m cache.Match) bool {
	_, ok := m.Payload.(CachedResponse)
	return ok
}

// retrieve 检索并按 50/30/20 分配上下文预算，失败时返回空上下文
func (p *Pipeline) retrieve(ctx context.Context, query string) (string, []string) {
	if p.retriever == nil {
		return "", nil
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()

	start := time.Now()
	aug, err := p.retriever.AugmentContext(ctx, query)
	n := 0
	if aug != nil {
		n = len(aug.Results)
	}
	p.metrics.RecordRetrieval(err, n, time.Since(start))
	span.SetAttributes(attribute.Int("results", n))

	if err != nil {
		span.RecordError(err)
		p.logger.Warn("retrieval failed, continuing without context", zap.Error(err))
		return "", nil
	}
	if n == 0 {
		return "", nil
	}

	return p.budgeter.RenderContext(aug.Sections, p.cfg.MaxContextTokens), aug.Citations
}

func (p *Pipeline) countPromptTokens(messages []llm.Message) int {
	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Content
	}
	return p.budgeter.CountMessages(texts...)
}

func (p *Pipeline) systemPrompt(agentType string) string {
	if prompt, ok := p.prompts[agentType]; ok {
		return prompt
	}
	return p.prompts["*"]
}

// buildMessages free 等级使用压缩后的系统提示词
func (p *Pipeline) buildMessages(agentType string, t tier.Tier, query, contextText string) []llm.Message {
	system := p.promptCache.GetOrCache(agentType, p.systemPrompt(agentType), t)
	if contextText != "" {
		system += "\n\n# Context\n" + contextText
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: query},
	}
}

func (p *Pipeline) prefetch(ctx context.Context, sessionID, query string, t tier.Tier, sc *scope) {
	if p.prefetcher == nil {
		return
	}
	p.prefetcher.Prefetch(ctx, sessionID, query, t, sc.responses)
}

func newRecord(sessionID, userID, agentType, model string, ok bool, attempts int, elapsed time.Duration, cost *float64) *feedback.Record {
	ms := elapsed.Milliseconds()
	rec := &feedback.Record{
		SessionID:       sessionID,
		AgentType:       agentType,
		ModelUsed:       model,
		WasSuccessful:   ok,
		IterationCount:  &attempts,
		ExecutionTimeMs: &ms,
		CostUnits:       cost,
	}
	if userID != "" {
		rec.UserID = &userID
	}
	return rec
}

// recordFeedback 后台追加反馈记录，不重试
func (p *Pipeline) recordFeedback(ctx context.Context, rec *feedback.Record) {
	if p.feedback == nil {
		return
	}
	task := func(taskCtx context.Context) error {
		if err := p.feedback.Append(taskCtx, rec); err != nil {
			p.logger.Warn("feedback write failed",
				zap.String("session_id", rec.SessionID),
				zap.String("model", rec.ModelUsed),
				zap.Error(err))
			return err
		}
		return nil
	}
	if p.spawner != nil {
		if !p.spawner.Go(ctx, "feedback", task) {
			p.logger.Debug("feedback write dropped", zap.String("session_id", rec.SessionID))
		}
		return
	}
	go func() {
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.BackgroundTimeout)
		defer cancel()
		_ = task(taskCtx)
	}()
}

// SetUserTier 持久化用户等级，并按新等级调整该用户的缓存容量
func (p *Pipeline) SetUserTier(ctx context.Context, userID string, t tier.Tier) error {
	if !tier.ValidUserID(userID) {
		return types.NewError(types.ErrInvalidRequest, "invalid user id").WithHTTPStatus(http.StatusBadRequest)
	}
	userID = strings.TrimSpace(userID)
	t = tier.ParseTier(string(t))

	if p.users != nil {
		profile, err := p.users.GetProfile(ctx, userID)
		if err != nil {
			if !errors.Is(err, tier.ErrUserNotFound) {
				return types.NewError(types.ErrStorage, "load user profile").WithCause(err)
			}
			profile = &tier.UserProfile{ID: userID}
		}
		profile.Tier = t.String()
		if err := p.users.SaveProfile(ctx, profile); err != nil {
			return types.NewError(types.ErrStorage, "save user profile").WithCause(err)
		}
	}

	if sc, ok := p.scopes.peek(userID); ok {
		limits := p.gate.Limits(t)
		if sc.applyTier(t, limits) {
			p.logger.Info("cache scope resized for tier change",
				zap.String("user_id", userID),
				zap.String("tier", t.String()),
				zap.Int("response_cache_limit", limits.ResponseCacheLimit),
				zap.Int("semantic_cache_limit", limits.SemanticCacheLimit))
		}
	}
	return nil
}

// ReloadLimits 等级配额热更新后调用，立即把已有作用域的缓存调整到新配额
func (p *Pipeline) ReloadLimits() int {
	resized := p.scopes.resizeAll(p.gate.Limits)
	if resized > 0 {
		p.logger.Info("cache scopes resized for reloaded tier limits", zap.Int("scopes", resized))
	}
	return resized
}

// UserTier 当前生效的用户等级，解析失败时为 free
func (p *Pipeline) UserTier(ctx context.Context, userID string) tier.Tier {
	return p.gate.ResolveTier(ctx, userID)
}

// Recommend 返回推荐模型与按等级过滤后的回退链
func (p *Pipeline) Recommend(ctx context.Context, agentType string, priority router.Priority, userID string) (router.Recommendation, []string) {
	if agentType == "" {
		agentType = DefaultAgentType
	}
	t := p.gate.ResolveTier(ctx, userID)
	rec := p.selector.SelectModel(ctx, agentType, router.ParsePriority(string(priority)), userID)
	return rec, router.FallbackChain(rec, t, p.cfg.MaxAttempts)
}

// RecordFeedback 同步追加一条用户反馈，记录只追加不修改
func (p *Pipeline) RecordFeedback(ctx context.Context, in FeedbackInput) (*feedback.Record, error) {
	if p.feedback == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "feedback store is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	rec := &feedback.Record{
		SessionID:       in.SessionID,
		AgentType:       in.AgentType,
		ModelUsed:       in.ModelUsed,
		UserRating:      in.Rating,
		WasSuccessful:   in.WasSuccessful,
		IterationCount:  in.IterationCount,
		ExecutionTimeMs: in.ExecutionTimeMs,
		CostUnits:       in.CostUnits,
	}
	if uid := strings.TrimSpace(in.UserID); uid != "" {
		rec.UserID = &uid
	}
	if err := p.feedback.Append(ctx, rec); err != nil {
		if errors.Is(err, feedback.ErrInvalidRecord) {
			return nil, types.NewError(types.ErrInvalidRequest, err.Error()).WithHTTPStatus(http.StatusBadRequest)
		}
		return nil, types.NewError(types.ErrStorage, "append feedback").WithCause(err)
	}
	return rec, nil
}

// Stats 运行时统计
type Stats struct {
	Scopes      int         `json:"scopes"`
	PromptCache cache.Stats `json:"prompt_cache"`
}

// Stats 返回运行时统计
func (p *Pipeline) Stats() Stats {
	return Stats{Scopes: p.scopes.len(), PromptCache: p.promptCache.Stats()}
}

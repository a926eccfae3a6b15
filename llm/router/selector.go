package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/tier"
)

// Priority 选择优先级
type Priority string

const (
	PrioritySpeed    Priority = "speed"
	PriorityQuality  Priority = "quality"
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
)

// ParsePriority 解析优先级，未知值按 balanced 处理
func ParsePriority(s string) Priority {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PrioritySpeed, PriorityQuality, PriorityCost:
		return p
	default:
		return PriorityBalanced
	}
}

const (
	// StaticConfidence 静态推荐的固定置信度
	StaticConfidence = 0.5
	// DefaultMaxFallbacks 回退链最大长度（含主模型）
	DefaultMaxFallbacks = 3

	neutralRating  = 3.0
	confidenceBase = 0.3
	confidenceSpan = 0.65
	confidenceCap  = 100
)

// Recommendation 模型推荐，按需计算，不持久化
type Recommendation struct {
	Model           string   `json:"model"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	EstimatedCost   float64  `json:"estimated_cost"`
	ExpectedQuality float64  `json:"expected_quality"`
	Fallbacks       []string `json:"fallbacks,omitempty"`
	Static          bool     `json:"static"`
}

// StaticDefault 某 agent 类型的预置推荐
type StaticDefault struct {
	Model     string
	Fallbacks []string
}

var defaultAgentModels = map[string]StaticDefault{
	"codegen":  {Model: "claude-3-5-sonnet", Fallbacks: []string{"gpt-4o", "gpt-4o-mini"}},
	"review":   {Model: "gpt-4o", Fallbacks: []string{"claude-3-5-sonnet", "gpt-4o-mini"}},
	"crawl":    {Model: "gpt-4o-mini", Fallbacks: []string{"claude-3-haiku", "gemini-1.5-flash"}},
	"imagegen": {Model: "gpt-4o", Fallbacks: []string{"gpt-4o-mini"}},
	"chat":     {Model: "gpt-4o-mini", Fallbacks: []string{"claude-3-haiku", "gpt-4o"}},
}

var defaultStatic = StaticDefault{Model: "gpt-4o-mini", Fallbacks: []string{"claude-3-haiku", "gemini-1.5-flash"}}

// StaticDefaultFor 返回 agent 类型的预置推荐，未知类型使用通用默认
func StaticDefaultFor(agentType string) StaticDefault {
	if d, ok := defaultAgentModels[agentType]; ok {
		return d
	}
	return defaultStatic
}

// TierResolver 由 tier.Gate 实现
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) tier.Tier
	EnforceTierModel(model string, t tier.Tier) string
}

// ModelSelector 基于反馈统计的模型选择器
type ModelSelector struct {
	store   feedback.Store
	tiers   TierResolver
	prices  *PriceTable
	timeout time.Duration
	logger  *zap.Logger
}

// Option 配置 ModelSelector
type Option func(*ModelSelector)

// WithTierResolver 按用户等级过滤候选模型
func WithTierResolver(r TierResolver) Option {
	return func(s *ModelSelector) { s.tiers = r }
}

// WithPriceTable 替换价格表
func WithPriceTable(t *PriceTable) Option {
	return func(s *ModelSelector) { s.prices = t }
}

// WithAggregateTimeout 设置读取反馈统计的超时
func WithAggregateTimeout(d time.Duration) Option {
	return func(s *ModelSelector) { s.timeout = d }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *ModelSelector) { s.logger = logger }
}

// NewModelSelector 创建选择器；store 为空时始终返回静态推荐
func NewModelSelector(store feedback.Store, opts ...Option) *ModelSelector {
	s := &ModelSelector{
		store:   store,
		prices:  DefaultPriceTable(),
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "model_selector"))
	return s
}

// Confidence 由样本量计算置信度：0 样本为 0，其余为 0.3 + min(n,100)/100*0.65
func Confidence(sampleCount int64) float64 {
	if sampleCount <= 0 {
		return 0
	}
	n := min(sampleCount, confidenceCap)
	return confidenceBase + float64(n)/confidenceCap*confidenceSpan
}

// Score 按优先级给单个模型打分
func Score(st feedback.ModelStats, p Priority) float64 {
	rating := st.AvgRating
	if st.RatedCount == 0 {
		rating = neutralRating
	}

	speed := 0.0
	if st.AvgLatencyMs > 0 {
		speed = 1000 / st.AvgLatencyMs
	}
	quality := rating * st.SuccessRate
	cost := rating
	if st.AvgCost > 0 {
		cost = rating / st.AvgCost
	}

	switch p {
	case PrioritySpeed:
		return speed
	case PriorityQuality:
		return quality
	case PriorityCost:
		return cost
	default:
		return 0.5*quality + 0.3*cost + 0.2*speed
	}
}

// SelectModel 选择模型，从不返回错误
func (s *ModelSelector) SelectModel(ctx context.Context, agentType string, p Priority, userID string) Recommendation {
	p = ParsePriority(string(p))

	allowed := func(string) bool { return true }
	var userTier tier.Tier
	if s.tiers != nil {
		userTier = s.tiers.ResolveTier(ctx, userID)
		allowed = func(m string) bool { return tier.IsModelAllowedForTier(m, userTier) }
	}

	stats, err := s.aggregate(ctx, agentType)
	if err != nil {
		s.logger.Warn("feedback aggregation failed, using static default",
			zap.String("agent_type", agentType), zap.Error(err))
		return s.staticRecommendation(agentType, userTier, "feedback unavailable")
	}

	candidates := make([]feedback.ModelStats, 0, len(stats))
	for _, st := range stats {
		if st.SampleCount > 0 && allowed(st.Model) {
			candidates = append(candidates, st)
		}
	}
	if len(candidates) == 0 {
		return s.staticRecommendation(agentType, userTier, "no historical samples")
	}

	type scored struct {
		stats feedback.ModelStats
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, st := range candidates {
		ranked[i] = scored{stats: st, score: Score(st, p)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	best := ranked[0].stats
	fallbacks := make([]string, 0, len(ranked)-1)
	for _, r := range ranked[1:] {
		fallbacks = append(fallbacks, r.stats.Model)
	}

	estimatedCost := best.AvgCost
	if estimatedCost <= 0 {
		estimatedCost = s.prices.EstimateCost(best.Model)
	}
	rating := best.AvgRating
	if best.RatedCount == 0 {
		rating = neutralRating
	}

	rec := Recommendation{
		Model:           best.Model,
		Confidence:      Confidence(feedback.TotalSamples(candidates)),
		EstimatedCost:   estimatedCost,
		ExpectedQuality: clamp(rating*best.SuccessRate, 0, 5),
		Fallbacks:       fallbacks,
		Reasoning: fmt.Sprintf("%s priority selected %s (score %.3f): avg rating %.2f, success rate %.0f%%, avg cost %.3f, avg latency %.0fms over %d samples",
			p, best.Model, ranked[0].score, rating, best.SuccessRate*100, best.AvgCost, best.AvgLatencyMs, best.SampleCount),
	}
	if s.tiers != nil {
		rec.Model = s.tiers.EnforceTierModel(rec.Model, userTier)
	}
	return rec
}

func (s *ModelSelector) aggregate(ctx context.Context, agentType string) ([]feedback.ModelStats, error) {
	if s.store == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.Aggregate(ctx, agentType)
}

func (s *ModelSelector) staticRecommendation(agentType string, t tier.Tier, why string) Recommendation {
	d := StaticDefaultFor(agentType)
	model := d.Model
	if s.tiers != nil {
		model = s.tiers.EnforceTierModel(model, t)
	}
	var fallbacks []string
	for _, m := range d.Fallbacks {
		if s.tiers == nil || tier.IsModelAllowedForTier(m, t) {
			fallbacks = append(fallbacks, m)
		}
	}
	return Recommendation{
		Model:           model,
		Confidence:      StaticConfidence,
		Reasoning:       fmt.Sprintf("static default for agent %q (%s)", agentType, why),
		EstimatedCost:   s.prices.EstimateCost(model),
		ExpectedQuality: s.prices.ExpectedQuality(model),
		Fallbacks:       fallbacks,
		Static:          true,
	}
}

// FallbackChain 主模型 + 推荐的备选 + 等级默认模型，去重、按等级过滤，最多 limit 个
func FallbackChain(rec Recommendation, t tier.Tier, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxFallbacks
	}
	t = tier.ParseTier(string(t))
	seen := make(map[string]struct{}, limit)
	chain := make([]string, 0, limit)
	add := func(m string) {
		if len(chain) >= limit || m == "" {
			return
		}
		if _, dup := seen[m]; dup || !tier.IsModelAllowedForTier(m, t) {
			return
		}
		seen[m] = struct{}{}
		chain = append(chain, m)
	}

	add(rec.Model)
	for _, m := range rec.Fallbacks {
		add(m)
	}
	add(tier.DefaultModel(t))
	return chain
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

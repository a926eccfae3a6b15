package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/budget"
	"github.com/BaSui01/inferflow/llm/cache"
	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/prefetch"
	"github.com/BaSui01/inferflow/llm/router"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/llm/tokenizer"
)

// Config 路由参数
type Config struct {
	MaxAttempts       int
	BudgetPolicy      BudgetPolicy
	FuzzyThreshold    float64
	SemanticThreshold float64
	// SemanticPrecheck 语义层内部的低阈值模糊预检
	SemanticPrecheck float64
	MaxContextTokens int
	MaxTokens        int
	Temperature      float32
	// ModelTimeout 单次模型调用超时
	ModelTimeout time.Duration
	// BackgroundTimeout 反馈写入等后台任务超时
	BackgroundTimeout time.Duration
	MaxScopes         int
	PromptCacheSize   int
}

// DefaultConfig 默认路由参数
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       router.DefaultMaxFallbacks,
		BudgetPolicy:      BudgetSoft,
		FuzzyThreshold:    cache.DefaultFuzzyThreshold,
		SemanticThreshold: cache.DefaultSemanticThreshold,
		SemanticPrecheck:  cache.DefaultSemanticFuzzyThreshold,
		MaxContextTokens:  2000,
		MaxTokens:         1024,
		Temperature:       0.2,
		ModelTimeout:      60 * time.Second,
		BackgroundTimeout: 10 * time.Second,
		MaxScopes:         DefaultMaxScopes,
		PromptCacheSize:   cache.DefaultPromptCacheSize,
	}
}

// Option 配置 Pipeline
type Option func(*Pipeline)

// WithConfig 覆盖路由参数，零值字段保留默认
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		def := p.cfg
		if cfg.MaxAttempts > 0 {
			def.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.BudgetPolicy != "" {
			def.BudgetPolicy = ParseBudgetPolicy(string(cfg.BudgetPolicy))
		}
		if cfg.FuzzyThreshold > 0 {
			def.FuzzyThreshold = cfg.FuzzyThreshold
		}
		if cfg.SemanticThreshold > 0 {
			def.SemanticThreshold = cfg.SemanticThreshold
		}
		if cfg.SemanticPrecheck > 0 {
			def.SemanticPrecheck = cfg.SemanticPrecheck
		}
		if cfg.MaxContextTokens > 0 {
			def.MaxContextTokens = cfg.MaxContextTokens
		}
		if cfg.MaxTokens > 0 {
			def.MaxTokens = cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			def.Temperature = cfg.Temperature
		}
		if cfg.ModelTimeout > 0 {
			def.ModelTimeout = cfg.ModelTimeout
		}
		if cfg.BackgroundTimeout > 0 {
			def.BackgroundTimeout = cfg.BackgroundTimeout
		}
		if cfg.MaxScopes > 0 {
			def.MaxScopes = cfg.MaxScopes
		}
		if cfg.PromptCacheSize > 0 {
			def.PromptCacheSize = cfg.PromptCacheSize
		}
		p.cfg = def
	}
}

// WithFeedbackStore 设置反馈存储
func WithFeedbackStore(s feedback.Store) Option {
	return func(p *Pipeline) { p.feedback = s }
}

// WithUserStore 设置用户资料存储，SetUserTier 通过它持久化等级
func WithUserStore(s tier.UserStore) Option {
	return func(p *Pipeline) { p.users = s }
}

// WithBudgetTracker 设置每日用量跟踪
func WithBudgetTracker(t *budget.Tracker) Option {
	return func(p *Pipeline) { p.tracker = t }
}

// WithRetriever 设置检索增强
func WithRetriever(r Retriever) Option {
	return func(p *Pipeline) { p.retriever = r }
}

// WithEmbedder 设置语义缓存使用的向量生成器
func WithEmbedder(e cache.Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithPrefetcher 设置预取器
func WithPrefetcher(pf *prefetch.Prefetcher) Option {
	return func(p *Pipeline) { p.prefetcher = pf }
}

// WithBudgeter 设置 Token 预算器
func WithBudgeter(b *tokenizer.Budgeter) Option {
	return func(p *Pipeline) { p.budgeter = b }
}

// WithPriceTable 设置价格表
func WithPriceTable(t *router.PriceTable) Option {
	return func(p *Pipeline) { p.prices = t }
}

// WithSpawner 设置后台任务执行器
func WithSpawner(s Spawner) Option {
	return func(p *Pipeline) { p.spawner = s }
}

// WithMetrics 设置指标
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSystemPrompts 按 agent 类型设置系统提示词，"*" 为默认
func WithSystemPrompts(prompts map[string]string) Option {
	return func(p *Pipeline) {
		for k, v := range prompts {
			p.prompts[k] = v
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

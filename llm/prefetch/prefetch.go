package prefetch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/llm/tier"
)

// MaxPredictions 单次预测返回的最大条数
const MaxPredictions = 3

// Target 接收占位条目的缓存，由 *cache.ResponseCache 实现
type Target interface {
	Contains(query string) bool
	SetPending(query string) bool
}

// Spawner 后台任务执行器，由 internal/pool.GoroutinePool 实现
type Spawner interface {
	Go(ctx context.Context, name string, task func(ctx context.Context) error) bool
}

// Quota 返回等级的预生成配额
func Quota(t tier.Tier, limits tier.Limits) int {
	if !limits.PrefetchEnabled {
		return 0
	}
	switch t {
	case tier.TierEnterprise:
		return 3
	case tier.TierPro:
		return 1
	default:
		return 0
	}
}

// Option 配置 Prefetcher
type Option func(*Prefetcher)

// WithProvider 设置用于预测的 LLM 与模型
func WithProvider(p llm.Provider, model string) Option {
	return func(pf *Prefetcher) {
		pf.provider = p
		pf.model = model
	}
}

// WithTimeout 设置预测调用超时
func WithTimeout(d time.Duration) Option {
	return func(pf *Prefetcher) {
		if d > 0 {
			pf.timeout = d
		}
	}
}

// WithRateLimit 限制每秒 LLM 预测次数，rps <= 0 表示不限
func WithRateLimit(rps float64, burst int) Option {
	return func(pf *Prefetcher) {
		if rps <= 0 {
			pf.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		pf.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSpawner 设置后台执行器
func WithSpawner(s Spawner) Option {
	return func(pf *Prefetcher) { pf.spawner = s }
}

// WithLimits 设置等级限额来源
func WithLimits(fn func(tier.Tier) tier.Limits) Option {
	return func(pf *Prefetcher) { pf.limits = fn }
}

// WithPlaceholderHook 每次预取结束后回调插入的占位数
func WithPlaceholderHook(fn func(t tier.Tier, inserted int)) Option {
	return func(pf *Prefetcher) { pf.onInserted = fn }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(pf *Prefetcher) {
		if logger != nil {
			pf.logger = logger
		}
	}
}

// Prefetcher 后续查询预测与缓存预热
type Prefetcher struct {
	provider   llm.Provider
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	spawner    Spawner
	limits     func(tier.Tier) tier.Limits
	onInserted func(t tier.Tier, inserted int)
	patterns   []pattern
	logger     *zap.Logger
}

// New 创建 Prefetcher
func New(opts ...Option) *Prefetcher {
	pf := &Prefetcher{
		timeout:  10 * time.Second,
		limiter:  rate.NewLimiter(5, 5),
		limits:   func(t tier.Tier) tier.Limits { return tier.DefaultLimits()[t] },
		patterns: defaultPatterns,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(pf)
	}
	pf.logger = pf.logger.With(zap.String("component", "prefetcher"))
	return pf
}

// Predict 返回最多 3 条后续查询；关键词模板优先，其次 LLM
func (p *Prefetcher) Predict(ctx context.Context, query string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if preds := matchPatterns(p.patterns, query); len(preds) > 0 {
		return preds
	}
	return p.predictWithLLM(ctx, query)
}

const predictSystemPrompt = "You predict what a user will ask next. " +
	"Reply with a JSON array of exactly 3 short follow-up questions, " +
	"written in the same language as the user's message. Output only the JSON array."

func (p *Prefetcher) predictWithLLM(ctx context.Context, query string) []string {
	if p.provider == nil {
		return nil
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.logger.Debug("prediction rate limited")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: predictSystemPrompt},
			{Role: llm.RoleUser, Content: query},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		p.logger.Debug("prediction call failed", zap.Error(err))
		return nil
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return nil
	}
	return ParsePredictions(choice.Message.Content)
}

// ParsePredictions 从模型输出中提取 JSON 字符串数组，任何解析失败都返回 nil
func ParsePredictions(content string) []string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil
	}

	out := make([]string, 0, MaxPredictions)
	seen := make(map[string]struct{}, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == MaxPredictions {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Prefetch 异步预测并插入占位条目，不阻塞调用方
func (p *Prefetcher) Prefetch(ctx context.Context, sessionID, query string, t tier.Tier, target Target) {
	if target == nil || Quota(t, p.limits(t)) == 0 {
		return
	}
	task := func(taskCtx context.Context) error {
		p.PrefetchSync(taskCtx, sessionID, query, t, target)
		return nil
	}
	if p.spawner != nil {
		if !p.spawner.Go(ctx, "prefetch", task) {
			p.logger.Debug("prefetch dropped", zap.String("session_id", sessionID))
		}
		return
	}
	go func() { _ = task(context.WithoutCancel(ctx)) }()
}

// PrefetchSync 同步执行一次预取，返回插入的占位数
func (p *Prefetcher) PrefetchSync(ctx context.Context, sessionID, query string, t tier.Tier, target Target) int {
	quota := Quota(t, p.limits(t))
	if quota == 0 || target == nil {
		return 0
	}

	inserted := 0
	for _, q := range p.Predict(ctx, query) {
		if inserted >= quota {
			break
		}
		if target.Contains(q) {
			continue
		}
		if target.SetPending(q) {
			inserted++
		}
	}

	if inserted > 0 {
		p.logger.Debug("prefetch placeholders inserted",
			zap.String("session_id", sessionID),
			zap.String("tier", t.String()),
			zap.Int("count", inserted))
	}
	if p.onInserted != nil {
		p.onInserted(t, inserted)
	}
	return inserted
}

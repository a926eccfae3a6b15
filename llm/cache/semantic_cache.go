package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/embedding"
	"github.com/BaSui01/inferflow/llm/tier"
)

const (
	// DefaultSemanticThreshold 语义命中的默认余弦阈值
	DefaultSemanticThreshold = 0.85
	// DefaultSemanticFuzzyThreshold 语义层内部模糊预检的 Jaccard 阈值
	DefaultSemanticFuzzyThreshold = 0.6
)

// Embedder 为查询生成带来源标记的向量
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Vector, error)
}

// Spawner 提交后台任务，通常由 internal/pool.GoroutinePool 实现
type Spawner interface {
	Go(ctx context.Context, name string, task func(ctx context.Context) error) bool
}

// EmbeddingEntry 语义缓存条目，LinkedKey 指向 ResponseCache 中的键
type EmbeddingEntry struct {
	Query     string           `json:"query"`
	Vector    []float64        `json:"-"`
	LinkedKey string           `json:"linked_key"`
	Timestamp time.Time        `json:"timestamp"`
	Source    embedding.Source `json:"source"`
}

// SemanticCache 基于嵌入向量的相似缓存，叠加在 ResponseCache 之上
type SemanticCache struct {
	mu        sync.RWMutex
	entries   map[string]*EmbeddingEntry
	maxSize   int
	evictions int64

	responses      *ResponseCache
	embedder       Embedder
	spawner        Spawner
	fuzzyThreshold float64
	timeout        time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// SemanticOption 配置 SemanticCache
type SemanticOption func(*SemanticCache)

// WithSemanticLogger 设置日志
func WithSemanticLogger(logger *zap.Logger) SemanticOption {
	return func(c *SemanticCache) { c.logger = logger }
}

// WithSpawner 设置后台任务提交器，未设置时直接起 goroutine
func WithSpawner(s Spawner) SemanticOption {
	return func(c *SemanticCache) { c.spawner = s }
}

// WithFuzzyPrecheck 设置模糊预检阈值
func WithFuzzyPrecheck(threshold float64) SemanticOption {
	return func(c *SemanticCache) { c.fuzzyThreshold = threshold }
}

// WithEmbedTimeout 设置生成向量的超时
func WithEmbedTimeout(d time.Duration) SemanticOption {
	return func(c *SemanticCache) { c.timeout = d }
}

// WithSemanticMaxSize 设置容量
func WithSemanticMaxSize(n int) SemanticOption {
	return func(c *SemanticCache) { c.maxSize = n }
}

// NewSemanticCache 创建语义缓存。embedder 为空时只做模糊预检。
func NewSemanticCache(responses *ResponseCache, embedder Embedder, opts ...SemanticOption) *SemanticCache {
	c := &SemanticCache{
		entries:        make(map[string]*EmbeddingEntry),
		maxSize:        1000,
		responses:      responses,
		embedder:       embedder,
		fuzzyThreshold: DefaultSemanticFuzzyThreshold,
		timeout:        3 * time.Second,
		now:            time.Now,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "semantic_cache"))
	return c
}

// FindSimilar 先用低阈值做模糊预检，未命中再按余弦相似度匹配。
// 只比较与查询向量同一来源的条目，向量生成失败视为未命中。
func (c *SemanticCache) FindSimilar(ctx context.Context, query string, threshold float64) (Match, bool) {
	if m, ok := c.responses.FindBest(query, c.fuzzyThreshold); ok {
		return m, true
	}
	if c.embedder == nil {
		return Match{}, false
	}

	vec, err := c.embed(ctx, query)
	if err != nil {
		c.logger.Debug("embedding failed, treating as miss", zap.Error(err))
		return Match{}, false
	}

	type candidate struct {
		entry *EmbeddingEntry
		score float64
	}
	var cands []candidate

	c.mu.RLock()
	for _, e := range c.entries {
		if e.Source != vec.Source || len(e.Vector) != len(vec.Values) {
			continue
		}
		score := Cosine(vec.Values, e.Vector)
		if score >= threshold {
			cands = append(cands, candidate{entry: e, score: score})
		}
	}
	c.mu.RUnlock()

	var best *candidate
	var stale []string
	for i := range cands {
		cand := &cands[i]
		if _, live := c.responses.lookup(cand.entry.LinkedKey); !live {
			stale = append(stale, cand.entry.Query)
			continue
		}
		if best == nil || cand.score > best.score ||
			(cand.score == best.score && cand.entry.Timestamp.After(best.entry.Timestamp)) {
			best = cand
		}
	}
	c.dropStale(stale)

	if best == nil {
		return Match{}, false
	}
	m, ok := c.responses.lookup(best.entry.LinkedKey)
	if !ok {
		return Match{}, false
	}
	m.Similarity = best.score
	m.Layer = LayerSemantic
	m.Source = string(best.entry.Source)
	return m, true
}

// AddEmbedding 异步为查询生成向量并入库，不阻塞调用方
func (c *SemanticCache) AddEmbedding(ctx context.Context, query string) {
	if c.embedder == nil {
		return
	}
	task := func(taskCtx context.Context) error {
		_, err := c.AddEmbeddingSync(taskCtx, query)
		return err
	}
	if c.spawner != nil {
		if !c.spawner.Go(ctx, "semantic_cache.add_embedding", task) {
			c.logger.Debug("add embedding dropped", zap.String("query", query))
		}
		return
	}
	go func() {
		if err := task(context.WithoutCancel(ctx)); err != nil {
			c.logger.Debug("add embedding failed", zap.Error(err))
		}
	}()
}

// AddEmbeddingSync 同步生成向量并入库
func (c *SemanticCache) AddEmbeddingSync(ctx context.Context, query string) (embedding.Source, error) {
	vec, err := c.embed(ctx, query)
	if err != nil {
		return "", err
	}
	c.Put(query, vec)
	return vec.Source, nil
}

// Put 直接写入已有向量，例如调用方随请求提供的向量
func (c *SemanticCache) Put(query string, vec embedding.Vector) {
	key := NormalizeKey(query)
	if key == "" || len(vec.Values) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSize <= 0 {
		return
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &EmbeddingEntry{
		Query:     key,
		Vector:    vec.Values,
		LinkedKey: key,
		Timestamp: c.now(),
		Source:    vec.Source,
	}
}

func (c *SemanticCache) embed(ctx context.Context, query string) (embedding.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.embedder.Embed(ctx, query)
}

func (c *SemanticCache) dropStale(keys []string) {
	if len(keys) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

// Len 当前条目数
func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetMaxSize 调整容量，缩容时淘汰最旧条目
func (c *SemanticCache) SetMaxSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	for len(c.entries) > 0 && len(c.entries) > max(n, 0) {
		c.evictOldestLocked()
	}
}

// SetTierLimits 按等级配额调整容量
func (c *SemanticCache) SetTierLimits(l tier.Limits) {
	c.SetMaxSize(l.SemanticCacheLimit)
}

// Stats 返回统计
func (c *SemanticCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Size: len(c.entries), MaxSize: c.maxSize, Evictions: c.evictions}
}

func (c *SemanticCache) evictOldestLocked() {
	var oldest *EmbeddingEntry
	for _, e := range c.entries {
		if oldest == nil || e.Timestamp.Before(oldest.Timestamp) ||
			(e.Timestamp.Equal(oldest.Timestamp) && e.Query < oldest.Query) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldest.Query)
		c.evictions++
	}
}

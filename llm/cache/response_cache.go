package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/tier"
)

// DefaultFuzzyThreshold 模糊命中的默认 Jaccard 阈值
const DefaultFuzzyThreshold = 0.7

// EntryStatus 缓存条目状态
type EntryStatus string

const (
	// StatusPending 预取占位，尚未生成内容，不会作为命中返回
	StatusPending EntryStatus = "pending"
	StatusReady   EntryStatus = "ready"
)

// Entry 响应缓存条目
type Entry struct {
	Key        string              `json:"key"`
	Tokens     map[string]struct{} `json:"-"`
	Payload    any                 `json:"payload,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	Prefetched bool                `json:"prefetched"`
	Status     EntryStatus         `json:"status"`
}

// Layer 命中所在的缓存层
type Layer string

const (
	LayerNone     Layer = "none"
	LayerExact    Layer = "exact"
	LayerFuzzy    Layer = "fuzzy"
	LayerSemantic Layer = "semantic"
)

// Match 一次命中
type Match struct {
	Key        string  `json:"key"`
	Payload    any     `json:"payload"`
	Similarity float64 `json:"similarity"`
	Layer      Layer   `json:"layer"`
	Prefetched bool    `json:"prefetched"`
	// Source 只在语义层命中时有值
	Source string `json:"source,omitempty"`
}

// Stats 缓存统计
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ResponseCache 精确 + 模糊（Jaccard）响应缓存
type ResponseCache struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time
	logger    *zap.Logger
}

// NewResponseCache 创建响应缓存；maxSize <= 0 时不保存任何条目
func NewResponseCache(maxSize int, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "response_cache")),
	}
}

// Set 写入或覆盖响应，覆盖时刷新 CreatedAt 并转为 ready
func (c *ResponseCache) Set(query string, payload any) {
	c.put(query, payload, StatusReady, false)
}

// SetPending 为预取写入占位条目，已存在任意状态的条目时不覆盖
func (c *ResponseCache) SetPending(query string) bool {
	key := NormalizeKey(query)
	c.mu.RLock()
	_, exists := c.entries[key]
	c.mu.RUnlock()
	if exists {
		return false
	}
	return c.put(query, nil, StatusPending, true)
}

func (c *ResponseCache) put(query string, payload any, status EntryStatus, prefetched bool) bool {
	key := NormalizeKey(query)
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return false
	}
	if e, ok := c.entries[key]; ok {
		if status == StatusPending {
			return false
		}
		e.Payload = payload
		e.Status = StatusReady
		e.CreatedAt = c.now()
		return true
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &Entry{
		Key:        key,
		Tokens:     TokenSet(key),
		Payload:    payload,
		CreatedAt:  c.now(),
		Prefetched: prefetched,
		Status:     status,
	}
	return true
}

// Get 精确查找，仅返回 ready 条目
func (c *ResponseCache) Get(query string) (any, bool) {
	m, ok := c.lookup(NormalizeKey(query))
	c.count(ok)
	if !ok {
		return nil, false
	}
	return m.Payload, true
}

// GetMatch 同 Get，返回命中详情
func (c *ResponseCache) GetMatch(query string) (Match, bool) {
	m, ok := c.lookup(NormalizeKey(query))
	c.count(ok)
	return m, ok
}

func (c *ResponseCache) lookup(key string) (Match, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.Status != StatusReady {
		return Match{}, false
	}
	return Match{Key: e.Key, Payload: e.Payload, Similarity: 1, Layer: LayerExact, Prefetched: e.Prefetched}, true
}

// FindSimilar 返回 Jaccard 相似度不低于 threshold 的最佳条目
func (c *ResponseCache) FindSimilar(query string, threshold float64) (any, bool) {
	m, ok := c.FindBest(query, threshold)
	if !ok {
		return nil, false
	}
	return m.Payload, true
}

// FindBest 同 FindSimilar，返回命中详情。
// 相似度相同时取 CreatedAt 最新的条目，再相同时取键的字典序较小者。
func (c *ResponseCache) FindBest(query string, threshold float64) (Match, bool) {
	tokens := TokenSet(query)
	if len(tokens) == 0 {
		c.count(false)
		return Match{}, false
	}

	c.mu.RLock()
	var best *Entry
	bestScore := -1.0
	for _, e := range c.entries {
		if e.Status != StatusReady {
			continue
		}
		score := Jaccard(tokens, e.Tokens)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && (e.CreatedAt.After(best.CreatedAt) ||
				(e.CreatedAt.Equal(best.CreatedAt) && e.Key < best.Key))) {
			best, bestScore = e, score
		}
	}
	var m Match
	if best != nil {
		layer := LayerFuzzy
		if best.Key == NormalizeKey(query) {
			layer = LayerExact
		}
		m = Match{Key: best.Key, Payload: best.Payload, Similarity: bestScore, Layer: layer, Prefetched: best.Prefetched}
	}
	c.mu.RUnlock()

	c.count(best != nil)
	return m, best != nil
}

// Contains 是否存在该查询的条目（含 pending）
func (c *ResponseCache) Contains(query string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[NormalizeKey(query)]
	return ok
}

// Delete 删除条目
func (c *ResponseCache) Delete(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, NormalizeKey(query))
}

// Len 当前条目数
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetMaxSize 调整容量，缩容时按 CreatedAt 从旧到新淘汰
func (c *ResponseCache) SetMaxSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	for len(c.entries) > 0 && len(c.entries) > max(n, 0) {
		c.evictOldestLocked()
	}
}

// SetTierLimits 按等级配额调整容量
func (c *ResponseCache) SetTierLimits(l tier.Limits) {
	c.SetMaxSize(l.ResponseCacheLimit)
}

// Stats 返回统计
func (c *ResponseCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *ResponseCache) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

func (c *ResponseCache) evictOldestLocked() {
	var oldest *Entry
	for _, e := range c.entries {
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) ||
			(e.CreatedAt.Equal(oldest.CreatedAt) && e.Key < oldest.Key) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	delete(c.entries, oldest.Key)
	c.evictions++
	c.logger.Debug("evicted oldest entry", zap.String("key", oldest.Key))
}

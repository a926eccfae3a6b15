package pipeline

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BaSui01/inferflow/llm/cache"
	"github.com/BaSui01/inferflow/llm/tier"
)

// DefaultMaxScopes 同时保留缓存的用户数上限
const DefaultMaxScopes = 10000

// anonymousScope 匿名或无效 ID 共享的缓存作用域
const anonymousScope = "__anonymous__"

// scope 单个用户的响应缓存与语义缓存，容量跟随等级配额
type scope struct {
	mu            sync.Mutex
	tier          tier.Tier
	responseLimit int
	semanticLimit int
	responses     *cache.ResponseCache
	semantic      *cache.SemanticCache
}

// applyTier 等级或该等级的缓存配额变化时调整两个缓存的容量，返回是否发生变化
func (s *scope) applyTier(t tier.Tier, limits tier.Limits) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier == t &&
		s.responseLimit == limits.ResponseCacheLimit &&
		s.semanticLimit == limits.SemanticCacheLimit {
		return false
	}
	s.tier = t
	s.responseLimit = limits.ResponseCacheLimit
	s.semanticLimit = limits.SemanticCacheLimit
	s.responses.SetTierLimits(limits)
	s.semantic.SetTierLimits(limits)
	return true
}

func (s *scope) currentTier() tier.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier
}

// scopes 按用户索引的缓存作用域，LRU 淘汰最久未访问的用户
type scopes struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *scope]
	build   func(t tier.Tier, limits tier.Limits) *scope
}

func newScopes(size int, build func(t tier.Tier, limits tier.Limits) *scope) (*scopes, error) {
	if size <= 0 {
		size = DefaultMaxScopes
	}
	entries, err := lru.New[string, *scope](size)
	if err != nil {
		return nil, err
	}
	return &scopes{entries: entries, build: build}, nil
}

func scopeKey(userID string) string {
	if !tier.ValidUserID(userID) {
		return anonymousScope
	}
	return strings.TrimSpace(userID)
}

// get 返回用户的作用域，不存在时按当前等级创建，已存在时同步等级
func (s *scopes) get(userID string, t tier.Tier, limits tier.Limits) *scope {
	key := scopeKey(userID)

	s.mu.Lock()
	sc, ok := s.entries.Get(key)
	if !ok {
		sc = s.build(t, limits)
		s.entries.Add(key, sc)
	}
	s.mu.Unlock()

	if ok {
		sc.applyTier(t, limits)
	}
	return sc
}

// peek 不创建、不更新访问顺序
func (s *scopes) peek(userID string) (*scope, bool) {
	return s.entries.Peek(scopeKey(userID))
}

func (s *scopes) len() int { return s.entries.Len() }

// resizeAll 按 limitsOf 重新应用每个作用域当前等级的配额，返回被调整的作用域数
func (s *scopes) resizeAll(limitsOf func(t tier.Tier) tier.Limits) int {
	resized := 0
	for _, sc := range s.entries.Values() {
		if sc.applyTier(sc.currentTier(), limitsOf(sc.currentTier())) {
			resized++
		}
	}
	return resized
}

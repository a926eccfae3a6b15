package tier

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/BaSui01/inferflow/config"
)

// Tier 订阅等级
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Tiers 按权限从低到高排列
var Tiers = []Tier{TierFree, TierPro, TierEnterprise}

// ParseTier 解析等级字符串，无法识别时返回 free
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// String 实现 fmt.Stringer
func (t Tier) String() string { return string(t) }

// Above 权限是否高于 other
func (t Tier) Above(other Tier) bool { return t.rank() > other.rank() }

// rank free=0 pro=1 enterprise=2，未知值视为 free
func (t Tier) rank() int {
	switch t {
	case TierPro:
		return 1
	case TierEnterprise:
		return 2
	default:
		return 0
	}
}

// Limits 单个等级的配额
type Limits struct {
	DailyBudgetUnits   float64 `json:"daily_budget_units"`
	MaxSessionMessages int     `json:"max_session_messages"`
	MaxSessions        int     `json:"max_sessions"`
	SemanticCacheLimit int     `json:"semantic_cache_limit"`
	ResponseCacheLimit int     `json:"response_cache_limit"`
	PrefetchEnabled    bool    `json:"prefetch_enabled"`
}

// DefaultLimits 内置兜底配额，配置源不可用时使用
func DefaultLimits() map[Tier]Limits {
	return LimitsFromConfig(config.DefaultTiersConfig())
}

// LimitsFromConfig 将配置转换为按等级索引的配额表
func LimitsFromConfig(tc config.TiersConfig) map[Tier]Limits {
	return map[Tier]Limits{
		TierFree:       fromConfig(tc.Free),
		TierPro:        fromConfig(tc.Pro),
		TierEnterprise: fromConfig(tc.Enterprise),
	}
}

func fromConfig(c config.TierLimitsConfig) Limits {
	return Limits{
		DailyBudgetUnits:   c.DailyBudgetUnits,
		MaxSessionMessages: c.MaxSessionMessages,
		MaxSessions:        c.MaxSessions,
		SemanticCacheLimit: c.SemanticCacheLimit,
		ResponseCacheLimit: c.ResponseCacheLimit,
		PrefetchEnabled:    c.PrefetchEnabled,
	}
}

// LimitsSource 配额来源
type LimitsSource interface {
	Limits(t Tier) (Limits, bool)
}

// ConfigLimits 基于配置的配额表，可在运行中原子替换
type ConfigLimits struct {
	table atomic.Pointer[map[Tier]Limits]
}

// NewConfigLimits 由配置创建配额来源
func NewConfigLimits(tc config.TiersConfig) *ConfigLimits {
	c := &ConfigLimits{}
	c.Update(tc)
	return c
}

// Update 替换整张配额表，通常挂在 config.TierWatcher.OnReload 上
func (c *ConfigLimits) Update(tc config.TiersConfig) {
	table := LimitsFromConfig(tc)
	c.table.Store(&table)
}

// Limits 实现 LimitsSource
func (c *ConfigLimits) Limits(t Tier) (Limits, bool) {
	table := c.table.Load()
	if table == nil {
		return Limits{}, false
	}
	l, ok := (*table)[t]
	return l, ok
}

// 模型准入表。高等级是低等级的严格超集，按顺序逐级追加。
var tierModelAdditions = map[Tier][]string{
	TierFree:       {"gpt-4o-mini", "claude-3-haiku", "gemini-1.5-flash"},
	TierPro:        {"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"},
	TierEnterprise: {"gpt-4-turbo", "claude-3-opus", "o1"},
}

var tierDefaultModel = map[Tier]string{
	TierFree:       "gpt-4o-mini",
	TierPro:        "gpt-4o",
	TierEnterprise: "gpt-4o",
}

// AllowedModels 返回等级可用的全部模型，顺序稳定
func AllowedModels(t Tier) []string {
	var models []string
	for _, tt := range Tiers {
		if tt.rank() > t.rank() {
			break
		}
		models = append(models, tierModelAdditions[tt]...)
	}
	return models
}

// IsModelAllowedForTier 判断模型是否在等级准入表中
func IsModelAllowedForTier(model string, t Tier) bool {
	return slices.Contains(AllowedModels(t), model)
}

// DefaultModel 等级的默认模型
func DefaultModel(t Tier) string {
	return tierDefaultModel[ParseTier(string(t))]
}

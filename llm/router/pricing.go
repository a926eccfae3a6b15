package router

import (
	"sort"
	"strings"
)

// PriceRule 模型前缀对应的单价与预期质量
type PriceRule struct {
	Prefix string
	// CostUnits 单次调用的预估成本单位
	CostUnits float64
	// Quality 预期质量，范围 0..5
	Quality float64
}

// PriceTable 按模型 ID 前缀查价，最长前缀优先
type PriceTable struct {
	rules []PriceRule
}

// NewPriceTable 创建价格表
func NewPriceTable(rules []PriceRule) *PriceTable {
	sorted := make([]PriceRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &PriceTable{rules: sorted}
}

// DefaultPriceTable 内置价格表
func DefaultPriceTable() *PriceTable {
	return NewPriceTable([]PriceRule{
		{Prefix: "gpt-4o-mini", CostUnits: 0.2, Quality: 3.6},
		{Prefix: "gpt-4o", CostUnits: 1.0, Quality: 4.3},
		{Prefix: "gpt-4-turbo", CostUnits: 2.0, Quality: 4.2},
		{Prefix: "o1", CostUnits: 4.0, Quality: 4.6},
		{Prefix: "claude-3-haiku", CostUnits: 0.15, Quality: 3.5},
		{Prefix: "claude-3-5-sonnet", CostUnits: 1.2, Quality: 4.5},
		{Prefix: "claude-3-opus", CostUnits: 3.0, Quality: 4.5},
		{Prefix: "gemini-1.5-flash", CostUnits: 0.1, Quality: 3.4},
		{Prefix: "gemini-1.5-pro", CostUnits: 0.8, Quality: 4.1},
	})
}

// Lookup 返回匹配的规则
func (t *PriceTable) Lookup(model string) (PriceRule, bool) {
	if t == nil || model == "" {
		return PriceRule{}, false
	}
	for _, r := range t.rules {
		if strings.HasPrefix(model, r.Prefix) {
			return r, true
		}
	}
	return PriceRule{}, false
}

// EstimateCost 预估成本，未知模型返回 1
func (t *PriceTable) EstimateCost(model string) float64 {
	if r, ok := t.Lookup(model); ok {
		return r.CostUnits
	}
	return 1
}

// ExpectedQuality 预期质量，未知模型返回 3
func (t *PriceTable) ExpectedQuality(model string) float64 {
	if r, ok := t.Lookup(model); ok {
		return r.Quality
	}
	return neutralRating
}

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/feedback"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/testutil"
)

type stubStore struct {
	stats []feedback.ModelStats
	err   error
	delay time.Duration
}

func (s *stubStore) Append(context.Context, *feedback.Record) error { return nil }

func (s *stubStore) Aggregate(ctx context.Context, _ string) ([]feedback.ModelStats, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.stats, s.err
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(0))
	assert.Equal(t, 0.0, Confidence(-3))
	assert.InDelta(t, 0.3065, Confidence(1), 1e-9)
	assert.InDelta(t, 0.625, Confidence(50), 1e-9)
	assert.InDelta(t, 0.95, Confidence(100), 1e-9)
	assert.InDelta(t, 0.95, Confidence(1_000_000), 1e-9)
}

func TestConfidence_Monotonic(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("non-decreasing and below 1", prop.ForAll(
		func(a, b int64) bool {
			if a > b {
				a, b = b, a
			}
			return Confidence(a) <= Confidence(b) && Confidence(b) < 1
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))
	properties.TestingRun(t)
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PrioritySpeed, ParsePriority("SPEED"))
	assert.Equal(t, PriorityBalanced, ParsePriority(""))
	assert.Equal(t, PriorityBalanced, ParsePriority("fastest"))
}

func TestScore(t *testing.T) {
	st := feedback.ModelStats{AvgRating: 4, RatedCount: 2, SuccessRate: 0.5, AvgCost: 2, AvgLatencyMs: 500, SampleCount: 2}
	assert.InDelta(t, 2.0, Score(st, PrioritySpeed), 1e-9)
	assert.InDelta(t, 2.0, Score(st, PriorityQuality), 1e-9)
	assert.InDelta(t, 2.0, Score(st, PriorityCost), 1e-9)
	assert.InDelta(t, 0.5*2+0.3*2+0.2*2, Score(st, PriorityBalanced), 1e-9)

	unknown := feedback.ModelStats{AvgRating: 5, RatedCount: 1, SuccessRate: 1}
	assert.Equal(t, 0.0, Score(unknown, PrioritySpeed))
	assert.Equal(t, 5.0, Score(unknown, PriorityCost))

	unrated := feedback.ModelStats{SuccessRate: 1, SampleCount: 4}
	assert.Equal(t, neutralRating, Score(unrated, PriorityQuality))
}

func TestSelectModel_PrioritiesPickDifferentModels(t *testing.T) {
	store := &stubStore{stats: []feedback.ModelStats{
		{Model: "gpt-4o", AvgRating: 4.8, RatedCount: 30, SuccessRate: 0.98, AvgCost: 1.0, AvgLatencyMs: 2000, SampleCount: 30},
		{Model: "gpt-4o-mini", AvgRating: 3.9, RatedCount: 30, SuccessRate: 0.95, AvgCost: 0.2, AvgLatencyMs: 400, SampleCount: 30},
	}}
	sel := NewModelSelector(store, WithLogger(zap.NewNop()))
	ctx := context.Background()

	q := sel.SelectModel(ctx, "codegen", PriorityQuality, "")
	assert.Equal(t, "gpt-4o", q.Model)
	assert.Equal(t, []string{"gpt-4o-mini"}, q.Fallbacks)
	assert.False(t, q.Static)
	assert.InDelta(t, Confidence(60), q.Confidence, 1e-9)
	assert.Contains(t, q.Reasoning, "quality")
	assert.Contains(t, q.Reasoning, "gpt-4o")

	s := sel.SelectModel(ctx, "codegen", PrioritySpeed, "")
	assert.Equal(t, "gpt-4o-mini", s.Model)

	c := sel.SelectModel(ctx, "codegen", PriorityCost, "")
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.InDelta(t, 0.2, c.EstimatedCost, 1e-9)
	assert.LessOrEqual(t, c.ExpectedQuality, 5.0)
}

func TestSelectModel_TiesKeepInsertionOrder(t *testing.T) {
	same := feedback.ModelStats{AvgRating: 4, RatedCount: 5, SuccessRate: 1, AvgCost: 1, AvgLatencyMs: 100, SampleCount: 5}
	a, b := same, same
	a.Model, b.Model = "claude-3-haiku", "gpt-4o-mini"
	sel := NewModelSelector(&stubStore{stats: []feedback.ModelStats{a, b}})

	for i := 0; i < 20; i++ {
		assert.Equal(t, "claude-3-haiku", sel.SelectModel(context.Background(), "chat", PriorityBalanced, "").Model)
	}
}

func TestSelectModel_StaticDefaults(t *testing.T) {
	sel := NewModelSelector(&stubStore{})
	rec := sel.SelectModel(context.Background(), "codegen", PriorityBalanced, "")
	assert.Equal(t, StaticDefaultFor("codegen").Model, rec.Model)
	assert.Equal(t, StaticConfidence, rec.Confidence)
	assert.True(t, rec.Static)

	unknown := sel.SelectModel(context.Background(), "poetry", PrioritySpeed, "")
	assert.Equal(t, defaultStatic.Model, unknown.Model)

	nilStore := NewModelSelector(nil)
	assert.True(t, nilStore.SelectModel(context.Background(), "crawl", "", "").Static)
}

func TestSelectModel_StorageFailureFallsBack(t *testing.T) {
	sel := NewModelSelector(&stubStore{err: errors.New("db down")})
	rec := sel.SelectModel(context.Background(), "crawl", PriorityQuality, "")
	assert.True(t, rec.Static)
	assert.Contains(t, rec.Reasoning, "feedback unavailable")

	slow := NewModelSelector(&stubStore{delay: time.Second}, WithAggregateTimeout(10*time.Millisecond))
	assert.True(t, slow.SelectModel(context.Background(), "crawl", PriorityQuality, "").Static)
}

type fixedTier struct {
	t tier.Tier
	g *tier.Gate
}

func (f fixedTier) ResolveTier(context.Context, string) tier.Tier { return f.t }
func (f fixedTier) EnforceTierModel(m string, t tier.Tier) string { return f.g.EnforceTierModel(m, t) }

func TestSelectModel_TierFiltering(t *testing.T) {
	store := &stubStore{stats: []feedback.ModelStats{
		{Model: "claude-3-opus", AvgRating: 5, RatedCount: 50, SuccessRate: 1, AvgCost: 3, AvgLatencyMs: 3000, SampleCount: 50},
		{Model: "gpt-4o-mini", AvgRating: 3, RatedCount: 50, SuccessRate: 0.9, AvgCost: 0.2, AvgLatencyMs: 300, SampleCount: 50},
	}}
	gate := tier.NewGate(nil, nil, nil)

	free := NewModelSelector(store, WithTierResolver(fixedTier{t: tier.TierFree, g: gate}))
	rec := free.SelectModel(context.Background(), "codegen", PriorityQuality, "user-00000001")
	assert.Equal(t, "gpt-4o-mini", rec.Model)

	ent := NewModelSelector(store, WithTierResolver(fixedTier{t: tier.TierEnterprise, g: gate}))
	assert.Equal(t, "claude-3-opus", ent.SelectModel(context.Background(), "codegen", PriorityQuality, "user-00000001").Model)

	// 静态推荐也受等级约束
	empty := NewModelSelector(&stubStore{}, WithTierResolver(fixedTier{t: tier.TierFree, g: gate}))
	staticRec := empty.SelectModel(context.Background(), "codegen", PriorityBalanced, "")
	assert.True(t, tier.IsModelAllowedForTier(staticRec.Model, tier.TierFree))
	for _, m := range staticRec.Fallbacks {
		assert.True(t, tier.IsModelAllowedForTier(m, tier.TierFree))
	}
}

func TestSelectModel_WithGormStore(t *testing.T) {
	db := testutil.NewTestDB(t, &feedback.Record{})
	store := feedback.NewGormStore(db)
	ctx := context.Background()
	rating := 5
	latency := int64(800)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, &feedback.Record{
			SessionID: "s", AgentType: "review", ModelUsed: "gpt-4o",
			UserRating: &rating, WasSuccessful: true, ExecutionTimeMs: &latency,
		}))
	}

	rec := NewModelSelector(store).SelectModel(ctx, "review", PriorityBalanced, "")
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.InDelta(t, Confidence(4), rec.Confidence, 1e-9)
	assert.InDelta(t, 1.0, rec.EstimatedCost, 1e-9, "unknown cost falls back to the price table")
}

func TestFallbackChain(t *testing.T) {
	rec := Recommendation{Model: "claude-3-opus", Fallbacks: []string{"gpt-4o", "gpt-4o", "claude-3-haiku", "gpt-4o-mini"}}

	assert.Equal(t, []string{"claude-3-opus", "gpt-4o", "claude-3-haiku"}, FallbackChain(rec, tier.TierEnterprise, 3))
	assert.Equal(t, []string{"claude-3-haiku", "gpt-4o-mini"}, FallbackChain(rec, tier.TierFree, 3))
	assert.Len(t, FallbackChain(rec, tier.TierEnterprise, 0), DefaultMaxFallbacks)

	empty := FallbackChain(Recommendation{Model: "nope"}, tier.TierPro, 3)
	assert.Equal(t, []string{tier.DefaultModel(tier.TierPro)}, empty)
}

func TestPriceTable_LongestPrefix(t *testing.T) {
	pt := DefaultPriceTable()
	assert.InDelta(t, 0.2, pt.EstimateCost("gpt-4o-mini-2024-07-18"), 1e-9)
	assert.InDelta(t, 1.0, pt.EstimateCost("gpt-4o-2024-08-06"), 1e-9)
	assert.InDelta(t, 1.0, pt.EstimateCost("mystery-model"), 1e-9)
	assert.Equal(t, neutralRating, pt.ExpectedQuality("mystery-model"))

	var nilTable *PriceTable
	_, ok := nilTable.Lookup("gpt-4o")
	assert.False(t, ok)
}

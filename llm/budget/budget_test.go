package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/internal/cache"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/testutil"
)

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryImage, Category("imagegen"))
	assert.Equal(t, CategoryImage, Category("Image-Edit"))
	assert.Equal(t, CategoryText, Category("codegen"))
	assert.Equal(t, CategoryText, Category(""))
}

func TestDay(t *testing.T) {
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	assert.Equal(t, "2026-03-02", Day(ts))
}

func TestMemoryUsageCounter(t *testing.T) {
	c := NewMemoryUsageCounter()
	ctx := context.Background()

	total, err := c.Add(ctx, "user-0001", CategoryText, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, total)

	total, _ = c.Add(ctx, "user-0001", CategoryText, 2)
	assert.Equal(t, 3.5, total)

	other, _ := c.Get(ctx, "user-0001", CategoryImage)
	assert.Zero(t, other)

	// 跨天后重新计数
	c.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	next, _ := c.Get(ctx, "user-0001", CategoryText)
	assert.Zero(t, next)
}

func TestRedisUsageCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	c := NewRedisUsageCounter(mgr)
	c.now = func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	_, err = c.Add(ctx, "user-0001", CategoryText, 0.75)
	require.NoError(t, err)
	total, err := c.Add(ctx, "user-0001", CategoryText, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, total, 1e-9)

	key := "inferflow:usage:user-0001:text:2026-05-04"
	assert.Equal(t, key, c.Key("user-0001", CategoryText))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultUsageTTL, mr.TTL(key))

	got, err := c.Get(ctx, "user-0001", CategoryText)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, got, 1e-9)

	missing, err := c.Get(ctx, "user-0002", CategoryText)
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestGormUsageCounter(t *testing.T) {
	db := testutil.NewTestDB(t, &DailyUsage{})
	c := NewGormUsageCounter(db)
	ctx := context.Background()

	total, err := c.Add(ctx, "user-0001", CategoryText, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, total)

	total, err = c.Add(ctx, "user-0001", CategoryText, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, total)

	got, err := c.Get(ctx, "user-0001", CategoryText)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	none, err := c.Get(ctx, "user-0001", CategoryImage)
	require.NoError(t, err)
	assert.Zero(t, none)

	var rows int64
	db.Model(&DailyUsage{}).Count(&rows)
	assert.Equal(t, int64(1), rows)
}

type brokenCounter struct{}

func (brokenCounter) Add(context.Context, string, string, float64) (float64, error) {
	return 0, errors.New("redis down")
}

func (brokenCounter) Get(context.Context, string, string) (float64, error) {
	return 0, errors.New("redis down")
}

func TestTracker_Check(t *testing.T) {
	tracker := NewTracker(nil, zap.NewNop())
	ctx := context.Background()
	limits := tier.Limits{DailyBudgetUnits: 10}

	assert.True(t, tracker.Check(ctx, "user-0001", CategoryText, 4, limits).Allowed)

	_, err := tracker.Record(ctx, "user-0001", CategoryText, 8, limits)
	require.NoError(t, err)

	d := tracker.Check(ctx, "user-0001", CategoryText, 4, limits)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Message, "8.00")
	assert.Contains(t, d.Message, "10.00")

	// 不限额
	assert.True(t, tracker.Check(ctx, "user-0001", CategoryText, 1000, tier.Limits{}).Allowed)
}

func TestTracker_FailsOpen(t *testing.T) {
	tracker := NewTracker(brokenCounter{}, zap.NewNop())
	d := tracker.Check(context.Background(), "user-0001", CategoryText, 100, tier.Limits{DailyBudgetUnits: 1})
	assert.True(t, d.Allowed)

	_, err := tracker.Record(context.Background(), "user-0001", CategoryText, 1, tier.Limits{DailyBudgetUnits: 1})
	assert.Error(t, err)
}

func TestTracker_AlertOncePerDay(t *testing.T) {
	tracker := NewTracker(NewMemoryUsageCounter(), zap.NewNop(), WithAlertThreshold(0.5))

	var (
		mu     sync.Mutex
		alerts []Alert
	)
	tracker.OnAlert(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
	})

	ctx := context.Background()
	limits := tier.Limits{DailyBudgetUnits: 10}
	for i := 0; i < 4; i++ {
		_, err := tracker.Record(ctx, "user-0001", CategoryText, 2, limits)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, 6.0, alerts[0].Used)
	assert.Equal(t, 0.5, alerts[0].Threshold)
}

func TestTracker_RecordIgnoresNonPositive(t *testing.T) {
	tracker := NewTracker(brokenCounter{}, nil)
	total, err := tracker.Record(context.Background(), "user-0001", CategoryText, 0, tier.Limits{})
	assert.NoError(t, err)
	assert.Zero(t, total)
}

package budget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 代理类别
const (
	CategoryText  = "text"
	CategoryImage = "image"
)

// DefaultUsageTTL 计数键的保留时间，覆盖跨时区的当日查询
const DefaultUsageTTL = 48 * time.Hour

// Category 将代理类型归入计费类别
func Category(agentType string) string {
	if strings.HasPrefix(strings.ToLower(agentType), "image") {
		return CategoryImage
	}
	return CategoryText
}

// Day 返回 UTC 日期字符串
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UsageCounter 每日用量计数器
type UsageCounter interface {
	// Add 累加用量并返回当日总量
	Add(ctx context.Context, userID, category string, units float64) (float64, error)
	// Get 返回当日总量，无记录时为 0
	Get(ctx context.Context, userID, category string) (float64, error)
}

// =============================================================================
// 内存实现
// =============================================================================

// MemoryUsageCounter 进程内用量计数
type MemoryUsageCounter struct {
	mu     sync.Mutex
	totals map[string]float64
	now    func() time.Time
}

// NewMemoryUsageCounter 创建内存计数器
func NewMemoryUsageCounter() *MemoryUsageCounter {
	return &MemoryUsageCounter{totals: make(map[string]float64), now: time.Now}
}

func (c *MemoryUsageCounter) key(userID, category string) string {
	return userID + "|" + category + "|" + Day(c.now())
}

// Add 实现 UsageCounter
func (c *MemoryUsageCounter) Add(_ context.Context, userID, category string, units float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(userID, category)
	c.totals[k] += units
	return c.totals[k], nil
}

// Get 实现 UsageCounter
func (c *MemoryUsageCounter) Get(_ context.Context, userID, category string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[c.key(userID, category)], nil
}

// =============================================================================
// Redis 实现
// =============================================================================

// FloatStore 是 RedisUsageCounter 依赖的最小 Redis 能力，由 internal/cache.Manager 提供
type FloatStore interface {
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
	GetFloat(ctx context.Context, key string) (float64, error)
}

// RedisUsageCounter 基于 Redis 的共享计数
type RedisUsageCounter struct {
	store  FloatStore
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisUsageCounter 创建 Redis 计数器
func NewRedisUsageCounter(store FloatStore) *RedisUsageCounter {
	return &RedisUsageCounter{
		store:  store,
		prefix: "inferflow:usage",
		ttl:    DefaultUsageTTL,
		now:    time.Now,
	}
}

// Key 返回计数键，格式 prefix:user:category:date
func (c *RedisUsageCounter) Key(userID, category string) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, userID, category, Day(c.now()))
}

// Add 实现 UsageCounter
func (c *RedisUsageCounter) Add(ctx context.Context, userID, category string, units float64) (float64, error) {
	total, err := c.store.IncrByFloat(ctx, c.Key(userID, category), units, c.ttl)
	if err != nil {
		return 0, fmt.Errorf("add usage: %w", err)
	}
	return total, nil
}

// Get 实现 UsageCounter
func (c *RedisUsageCounter) Get(ctx context.Context, userID, category string) (float64, error) {
	total, err := c.store.GetFloat(ctx, c.Key(userID, category))
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return total, nil
}

// =============================================================================
// 数据库实现
// =============================================================================

// DailyUsage 每日用量表
type DailyUsage struct {
	UserID    string    `gorm:"primaryKey;size:64" json:"user_id"`
	Category  string    `gorm:"primaryKey;size:32" json:"category"`
	Day       string    `gorm:"primaryKey;size:10" json:"day"`
	Units     float64   `gorm:"not null;default:0" json:"units"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DailyUsage) TableName() string { return "daily_usage" }

// GormUsageCounter 基于数据库的计数
type GormUsageCounter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormUsageCounter 创建数据库计数器
func NewGormUsageCounter(db *gorm.DB) *GormUsageCounter {
	return &GormUsageCounter{db: db, now: time.Now}
}

// Add 实现 UsageCounter，以 upsert 累加
func (c *GormUsageCounter) Add(ctx context.Context, userID, category string, units float64) (float64, error) {
	now := c.now()
	row := DailyUsage{UserID: userID, Category: category, Day: Day(now), Units: units, UpdatedAt: now}

	var totals []float64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "category"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{
				"units":      gorm.Expr("daily_usage.units + ?", units),
				"updated_at": now,
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&DailyUsage{}).
			Where("user_id = ? AND category = ? AND day = ?", row.UserID, row.Category, row.Day).
			Pluck("units", &totals).Error
	})
	if err != nil {
		return 0, fmt.Errorf("add usage: %w", err)
	}
	if len(totals) == 0 {
		return units, nil
	}
	return totals[0], nil
}

// Get 实现 UsageCounter
func (c *GormUsageCounter) Get(ctx context.Context, userID, category string) (float64, error) {
	var rows []float64
	err := c.db.WithContext(ctx).Model(&DailyUsage{}).
		Where("user_id = ? AND category = ? AND day = ?", userID, category, Day(c.now())).
		Pluck("units", &rows).Error
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0], nil
}

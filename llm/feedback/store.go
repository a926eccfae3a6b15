package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidRecord 记录缺少必填字段或评分越界
var ErrInvalidRecord = errors.New("invalid feedback record")

// Record 一次 agent 执行的结果，写入后不可修改
type Record struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SessionID       string    `gorm:"size:64;index;not null" json:"session_id"`
	UserID          *string   `gorm:"size:64;index" json:"user_id,omitempty"`
	AgentType       string    `gorm:"size:64;index:idx_feedback_agent_model;not null" json:"agent_type"`
	ModelUsed       string    `gorm:"size:128;index:idx_feedback_agent_model;not null" json:"model_used"`
	UserRating      *int      `json:"user_rating,omitempty"`
	WasSuccessful   bool      `gorm:"not null" json:"was_successful"`
	IterationCount  *int      `json:"iteration_count,omitempty"`
	ExecutionTimeMs *int64    `json:"execution_time_ms,omitempty"`
	CostUnits       *float64  `json:"cost_units,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (Record) TableName() string { return "feedback_records" }

// Validate 校验必填字段与评分范围
func (r *Record) Validate() error {
	if r.SessionID == "" || r.AgentType == "" || r.ModelUsed == "" {
		return fmt.Errorf("%w: session_id, agent_type and model_used are required", ErrInvalidRecord)
	}
	if r.UserRating != nil && (*r.UserRating < 1 || *r.UserRating > 5) {
		return fmt.Errorf("%w: user_rating must be within 1..5, got %d", ErrInvalidRecord, *r.UserRating)
	}
	return nil
}

// ModelStats 单个模型在某 agent 类型下的聚合统计
type ModelStats struct {
	Model string `json:"model"`
	// AvgRating 仅对有评分的记录取平均，RatedCount 为 0 时无意义
	AvgRating    float64 `json:"avg_rating"`
	RatedCount   int64   `json:"rated_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgCost      float64 `json:"avg_cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SampleCount  int64   `json:"sample_count"`
}

// Store 反馈存储
type Store interface {
	Append(ctx context.Context, r *Record) error
	// Aggregate 按模型聚合，顺序为模型首次出现的顺序
	Aggregate(ctx context.Context, agentType string) ([]ModelStats, error)
}

// GormStore 基于 gorm 的 Store
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore 创建 gorm 反馈存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Append 追加一条记录
func (s *GormStore) Append(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	rec := *r
	rec.ID = 0
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	r.ID = rec.ID
	r.CreatedAt = rec.CreatedAt
	return nil
}

type aggregateRow struct {
	ModelUsed    string
	AvgRating    sql.NullFloat64
	RatedCount   int64
	SuccessRate  float64
	AvgCost      sql.NullFloat64
	AvgLatencyMs sql.NullFloat64
	SampleCount  int64
}

// Aggregate 实现 Store
func (s *GormStore) Aggregate(ctx context.Context, agentType string) ([]ModelStats, error) {
	var rows []aggregateRow
	err := s.db.WithContext(ctx).
		Model(&Record{}).
		Select(`model_used,
			AVG(user_rating) AS avg_rating,
			COUNT(user_rating) AS rated_count,
			AVG(CASE WHEN was_successful THEN 1.0 ELSE 0.0 END) AS success_rate,
			AVG(cost_units) AS avg_cost,
			AVG(execution_time_ms) AS avg_latency_ms,
			COUNT(*) AS sample_count`).
		Where("agent_type = ?", agentType).
		Group("model_used").
		Order("MIN(id)").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate feedback: %w", err)
	}

	stats := make([]ModelStats, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, ModelStats{
			Model:        r.ModelUsed,
			AvgRating:    r.AvgRating.Float64,
			RatedCount:   r.RatedCount,
			SuccessRate:  r.SuccessRate,
			AvgCost:      r.AvgCost.Float64,
			AvgLatencyMs: r.AvgLatencyMs.Float64,
			SampleCount:  r.SampleCount,
		})
	}
	return stats, nil
}

// TotalSamples 所有模型的样本总数
func TotalSamples(stats []ModelStats) int64 {
	var n int64
	for _, s := range stats {
		n += s.SampleCount
	}
	return n
}

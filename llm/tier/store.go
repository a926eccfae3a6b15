package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("user profile not found")

// UserProfile 用户等级与个人预算上限
type UserProfile struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Tier        string    `gorm:"size:16;not null;default:free" json:"tier"`
	BudgetLimit *float64  `json:"budget_limit,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (UserProfile) TableName() string { return "user_profiles" }

// UserStore 用户资料存储
type UserStore interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	SaveProfile(ctx context.Context, profile *UserProfile) error
}

// GormUserStore 基于 gorm 的 UserStore
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore 创建 gorm 用户存储
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

// GetProfile 读取用户资料，不存在时返回 ErrUserNotFound
func (s *GormUserStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var p UserProfile
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user profile: %w", err)
	}
	return &p, nil
}

// SaveProfile 插入或更新用户资料
func (s *GormUserStore) SaveProfile(ctx context.Context, profile *UserProfile) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "budget_limit", "updated_at"}),
	}).Create(profile).Error
	if err != nil {
		return fmt.Errorf("save user profile: %w", err)
	}
	return nil
}

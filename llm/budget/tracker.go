package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/tier"
)

// DefaultAlertThreshold 当日用量达到预算该比例时告警
const DefaultAlertThreshold = 0.8

// Alert 预算告警
type Alert struct {
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Used      float64   `json:"used"`
	Limit     float64   `json:"limit"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertHandler 处理预算告警
type AlertHandler func(alert Alert)

// TrackerOption 配置 Tracker
type TrackerOption func(*Tracker)

// WithAlertThreshold 设置告警比例，取值 (0, 1]
func WithAlertThreshold(th float64) TrackerOption {
	return func(t *Tracker) {
		if th > 0 && th <= 1 {
			t.threshold = th
		}
	}
}

// WithCounterTimeout 设置计数器调用超时
func WithCounterTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// Tracker 每日预算跟踪器
type Tracker struct {
	counter   UsageCounter
	threshold float64
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	handlers []AlertHandler
	alerted  map[string]struct{}
	now      func() time.Time
}

// NewTracker 创建跟踪器；counter 为空时使用内存计数
func NewTracker(counter UsageCounter, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if counter == nil {
		counter = NewMemoryUsageCounter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		counter:   counter,
		threshold: DefaultAlertThreshold,
		timeout:   time.Second,
		logger:    logger.With(zap.String("component", "budget_tracker")),
		alerted:   make(map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnAlert 注册告警处理器
func (t *Tracker) OnAlert(handler AlertHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Used 返回当日已用量，计数器失败时返回 0 与错误
func (t *Tracker) Used(ctx context.Context, userID, category string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.counter.Get(ctx, userID, category)
}

// Check 判断本次预估用量是否仍在等级日预算之内。
// DailyBudgetUnits <= 0 表示不限；计数器出错时放行。
func (t *Tracker) Check(ctx context.Context, userID, category string, estimated float64, limits tier.Limits) tier.BudgetDecision {
	if limits.DailyBudgetUnits <= 0 {
		return tier.BudgetDecision{Allowed: true}
	}

	used, err := t.Used(ctx, userID, category)
	if err != nil {
		t.logger.Warn("usage lookup failed, allowing request",
			zap.String("user_id", userID),
			zap.String("category", category),
			zap.Error(err))
		return tier.BudgetDecision{Allowed: true}
	}

	if used+estimated > limits.DailyBudgetUnits {
		return tier.BudgetDecision{
			Allowed: false,
			Message: fmt.Sprintf("daily usage %.2f plus estimated cost %.2f exceeds daily budget %.2f",
				used, estimated, limits.DailyBudgetUnits),
		}
	}
	return tier.BudgetDecision{Allowed: true}
}

// Record 累加实际用量，达到告警比例时每个 (用户, 类别, 日期) 只告警一次
func (t *Tracker) Record(ctx context.Context, userID, category string, units float64, limits tier.Limits) (float64, error) {
	if units <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	total, err := t.counter.Add(ctx, userID, category, units)
	if err != nil {
		t.logger.Warn("usage record failed",
			zap.String("user_id", userID),
			zap.String("category", category),
			zap.Float64("units", units),
			zap.Error(err))
		return 0, err
	}

	if limits.DailyBudgetUnits > 0 && total >= limits.DailyBudgetUnits*t.threshold {
		t.maybeAlert(Alert{
			UserID:    userID,
			Category:  category,
			Used:      total,
			Limit:     limits.DailyBudgetUnits,
			Threshold: t.threshold,
			Timestamp: t.now(),
		})
	}
	return total, nil
}

func (t *Tracker) maybeAlert(alert Alert) {
	key := alert.UserID + "|" + alert.Category + "|" + Day(alert.Timestamp)

	t.mu.Lock()
	if _, done := t.alerted[key]; done {
		t.mu.Unlock()
		return
	}
	t.alerted[key] = struct{}{}
	handlers := append([]AlertHandler(nil), t.handlers...)
	t.mu.Unlock()

	t.logger.Warn("daily budget threshold reached",
		zap.String("user_id", alert.UserID),
		zap.String("category", alert.Category),
		zap.Float64("used", alert.Used),
		zap.Float64("limit", alert.Limit))

	for _, handler := range handlers {
		handler(alert)
	}
}

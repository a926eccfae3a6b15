package tier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MinUserIDLength 有效用户 ID 的最小长度，更短的 ID 视为伪造或匿名
const MinUserIDLength = 8

var anonymousIDs = map[string]struct{}{
	"anon":      {},
	"anonymous": {},
	"guest":     {},
}

// BudgetDecision 预算检查结果
type BudgetDecision struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// Gate 等级解析、模型准入与预算检查
type Gate struct {
	users  UserStore
	limits LimitsSource
	logger *zap.Logger
}

// NewGate 创建 Gate。users 为空时所有用户都解析为 free；limits 为空时使用内置配额。
func NewGate(users UserStore, limits LimitsSource, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		users:  users,
		limits: limits,
		logger: logger.With(zap.String("component", "tier_gate")),
	}
}

// ValidUserID 判断 ID 是否可用于等级查询
func ValidUserID(userID string) bool {
	id := strings.TrimSpace(userID)
	if len(id) < MinUserIDLength {
		return false
	}
	_, anon := anonymousIDs[strings.ToLower(id)]
	return !anon
}

// ResolveTier 解析用户等级，任何不确定情况都返回 free
func (g *Gate) ResolveTier(ctx context.Context, userID string) Tier {
	if !ValidUserID(userID) || g.users == nil {
		return TierFree
	}
	profile, err := g.users.GetProfile(ctx, strings.TrimSpace(userID))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			g.logger.Warn("tier lookup failed, defaulting to free",
				zap.String("user_id", userID), zap.Error(err))
		}
		return TierFree
	}
	return ParseTier(profile.Tier)
}

// EnforceTierModel 模型不在准入表时降级为等级默认模型，不返回错误
func (g *Gate) EnforceTierModel(model string, t Tier) string {
	t = ParseTier(string(t))
	if IsModelAllowedForTier(model, t) {
		return model
	}
	fallback := DefaultModel(t)
	g.logger.Warn("requested model not allowed for tier, downgrading",
		zap.String("requested", model),
		zap.String("tier", t.String()),
		zap.String("model", fallback))
	return fallback
}

// Limits 等级配额，配置源缺失时使用内置兜底
func (g *Gate) Limits(t Tier) Limits {
	t = ParseTier(string(t))
	if g.limits != nil {
		if l, ok := g.limits.Limits(t); ok {
			return l
		}
	}
	return DefaultLimits()[t]
}

// CheckUserBudget 按用户个人预算上限检查，未配置上限时放行
func (g *Gate) CheckUserBudget(ctx context.Context, userID string, estimatedCost float64) BudgetDecision {
	if !ValidUserID(userID) || g.users == nil {
		return BudgetDecision{Allowed: true}
	}
	profile, err := g.users.GetProfile(ctx, strings.TrimSpace(userID))
	if err != nil {
		return BudgetDecision{Allowed: true}
	}
	return CheckBudget(estimatedCost, profile.BudgetLimit)
}

// CheckBudget 比较预估成本与预算上限，只报告不拦截
func CheckBudget(estimatedCost float64, budgetLimit *float64) BudgetDecision {
	if budgetLimit == nil {
		return BudgetDecision{Allowed: true}
	}
	if estimatedCost > *budgetLimit {
		return BudgetDecision{
			Allowed: false,
			Message: fmt.Sprintf("estimated cost %.2f exceeds budget limit %.2f", estimatedCost, *budgetLimit),
		}
	}
	return BudgetDecision{Allowed: true}
}

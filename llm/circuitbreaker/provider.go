package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/types"
)

// Provider 按模型熔断的 llm.Provider 装饰器。
// 熔断中的模型立即返回可重试的 ErrProviderUnavailable，回退链直接尝试下一个模型。
type Provider struct {
	next   llm.Provider
	group  *Group
	logger *zap.Logger
}

// WrapProvider 为 next 的每个模型挂一个熔断器
func WrapProvider(next llm.Provider, config Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		next:   next,
		group:  NewGroup(config, logger),
		logger: logger,
	}
}

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	b := p.group.Get(req.Model)
	if err := b.Allow(); err != nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "model "+req.Model+" is temporarily unavailable").
			WithCause(err).
			WithRetryable(true).
			WithProvider(p.next.Name())
	}
	resp, err := p.next.Completion(ctx, req)
	b.Done(err)
	return resp, err
}

// HealthCheck 透传
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.next.HealthCheck(ctx)
}

// Name 透传
func (p *Provider) Name() string { return p.next.Name() }

// States 每个模型的熔断状态
func (p *Provider) States() map[string]State { return p.group.States() }

package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中，直接拒绝
	StateOpen
	// StateHalfOpen 放行有限的试探请求
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen 熔断打开或半开名额用尽
var ErrOpen = errors.New("circuit breaker is open")

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值
	Threshold int
	// ResetTimeout Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开状态下同时放行的试探请求数
	HalfOpenMaxCalls int
	// OnStateChange 状态变更回调，在持锁之外同步调用
	OnStateChange func(key string, from, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return c
}

// Breaker 单个 key（通常是模型名）的熔断器
type Breaker struct {
	key    string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
}

// New 创建熔断器
func New(key string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		key:    key,
		config: config.normalize(),
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Allow 判断是否放行；放行后必须调用 Done 汇报结果
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var from State
	changed := false
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.halfOpenCalls = 1
	case StateHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return ErrOpen
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	if changed {
		b.notify(from, StateHalfOpen)
	}
	return nil
}

// Done 汇报一次放行调用的结果，err 为 nil 或不计入熔断的错误视为成功
func (b *Breaker) Done(err error) {
	failed := countsAsFailure(err)

	b.mu.Lock()
	from := b.state
	to := from
	switch {
	case !failed:
		b.failures = 0
		if from == StateHalfOpen {
			to = StateClosed
			b.halfOpenCalls = 0
		}
	case from == StateHalfOpen:
		to = StateOpen
		b.openedAt = b.now()
		b.halfOpenCalls = 0
	default:
		b.failures++
		if from == StateClosed && b.failures >= b.config.Threshold {
			to = StateOpen
			b.openedAt = b.now()
		}
	}
	b.state = to
	failures := b.failures
	b.mu.Unlock()

	if to != from {
		if to == StateOpen {
			b.logger.Warn("circuit opened",
				zap.String("key", b.key),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
		}
		b.notify(from, to)
	}
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) notify(from, to State) {
	b.logger.Info("circuit state changed",
		zap.String("key", b.key),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.key, from, to)
	}
}

// countsAsFailure 请求本身的问题与调用方取消都不代表上游不健康
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrAuthentication, types.ErrForbidden,
		types.ErrQuotaExceeded, types.ErrContextTooLong, types.ErrModelNotFound:
		return false
	}
	return true
}

// =============================================================================
// 按 key 分组
// =============================================================================

// Group 惰性创建并持有每个 key 的熔断器
type Group struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup 创建熔断器组
func NewGroup(config Config, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		config:   config,
		logger:   logger.With(zap.String("component", "circuit_breaker")),
		breakers: make(map[string]*Breaker),
	}
}

// Get 返回 key 对应的熔断器，不存在时创建
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = New(key, g.config, g.logger)
		g.breakers[key] = b
	}
	return b
}

// States 所有已知 key 的当前状态
func (g *Group) States() map[string]State {
	g.mu.Lock()
	keys := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		keys = append(keys, b)
	}
	g.mu.Unlock()

	out := make(map[string]State, len(keys))
	for _, b := range keys {
		out[b.key] = b.State()
	}
	return out
}

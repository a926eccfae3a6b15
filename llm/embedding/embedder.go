package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoProvider 没有可用的嵌入来源
var ErrNoProvider = errors.New("no embedding provider available")

// Embedder 组合远端嵌入服务与哈希回退。
// 相同文本的并发请求只会触发一次远端调用。
type Embedder struct {
	primary  Provider
	fallback *HashProvider
	timeout  time.Duration
	group    singleflight.Group
	logger   *zap.Logger
}

// EmbedderOption 配置 Embedder
type EmbedderOption func(*Embedder)

// WithTimeout 设置远端调用超时
func WithTimeout(d time.Duration) EmbedderOption {
	return func(e *Embedder) { e.timeout = d }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) EmbedderOption {
	return func(e *Embedder) { e.logger = logger }
}

// WithoutHashFallback 关闭哈希回退，远端失败时直接返回错误
func WithoutHashFallback() EmbedderOption {
	return func(e *Embedder) { e.fallback = nil }
}

// NewEmbedder 创建 Embedder；primary 为空时只使用哈希向量
func NewEmbedder(primary Provider, opts ...EmbedderOption) *Embedder {
	dims := DefaultHashDimensions
	if primary != nil && primary.Dimensions() > 0 {
		dims = primary.Dimensions()
	}
	e := &Embedder{
		primary:  primary,
		fallback: NewHashProvider(dims),
		timeout:  5 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "embedder"))
	return e
}

// Dimensions 返回向量维度
func (e *Embedder) Dimensions() int {
	if e.primary != nil && e.primary.Dimensions() > 0 {
		return e.primary.Dimensions()
	}
	if e.fallback != nil {
		return e.fallback.Dimensions()
	}
	return 0
}

// Embed 生成查询向量，远端失败或超时时退回哈希向量
func (e *Embedder) Embed(ctx context.Context, text string) (Vector, error) {
	if e.primary != nil {
		v, err, _ := e.group.Do(text, func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return e.primary.EmbedQuery(callCtx, text)
		})
		if err == nil {
			return Vector{Values: v.([]float64), Source: SourceServer}, nil
		}
		e.logger.Warn("embedding provider failed",
			zap.String("provider", e.primary.Name()),
			zap.Bool("hash_fallback", e.fallback != nil),
			zap.Error(err))
		if e.fallback == nil {
			return Vector{}, fmt.Errorf("embed query: %w", err)
		}
	}

	if e.fallback == nil {
		return Vector{}, ErrNoProvider
	}
	return Vector{Values: e.fallback.Vector(text), Source: SourceHash}, nil
}

// EmbedWithClientVector 调用方已提供向量时直接使用，否则同 Embed
func (e *Embedder) EmbedWithClientVector(ctx context.Context, text string, clientVector []float64) (Vector, error) {
	if len(clientVector) > 0 {
		values := make([]float64, len(clientVector))
		copy(values, clientVector)
		return Vector{Values: values, Source: SourceClient}, nil
	}
	return e.Embed(ctx, text)
}

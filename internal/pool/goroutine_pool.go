// Package pool 提供有界的后台任务池，用于预取、反馈写入、向量回填等
// 不阻塞请求路径的副作用。任务与调用方上下文解耦，但始终带超时，失败只记录日志。
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 后台任务
type Task = func(ctx context.Context) error

// GoroutinePool 固定上限的后台 worker 池
type GoroutinePool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	closeMu     sync.RWMutex
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	taskTimeout time.Duration
	idleTimeout time.Duration
	logger      *zap.Logger
	onDone      func(name string, err error)
}

type taskWrapper struct {
	name string
	task Task
	ctx  context.Context
}

// GoroutinePoolConfig 池配置
type GoroutinePoolConfig struct {
	MaxWorkers  int           `json:"max_workers"`
	QueueSize   int           `json:"queue_size"`
	TaskTimeout time.Duration `json:"task_timeout"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// DefaultGoroutinePoolConfig 默认配置
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		MaxWorkers:  8,
		QueueSize:   256,
		TaskTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Option 池选项
type Option func(*GoroutinePool)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(p *GoroutinePool) { p.logger = logger }
}

// WithCompletionHook 每个任务结束时回调，用于指标统计
func WithCompletionHook(fn func(name string, err error)) Option {
	return func(p *GoroutinePool) { p.onDone = fn }
}

// NewGoroutinePool 创建任务池
func NewGoroutinePool(config GoroutinePoolConfig, opts ...Option) *GoroutinePool {
	def := DefaultGoroutinePoolConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	p := &GoroutinePool{
		maxWorkers:  config.MaxWorkers,
		taskQueue:   make(chan taskWrapper, config.QueueSize),
		taskTimeout: config.TaskTimeout,
		idleTimeout: config.IdleTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "background_pool"))
	return p
}

// Submit 提交任务。任务运行在与 ctx 解耦的上下文中（保留 ctx 的值，忽略取消），
// 并受 TaskTimeout 约束。队列已满时直接拒绝，不阻塞调用方。
func (p *GoroutinePool) Submit(ctx context.Context, name string, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := taskWrapper{name: name, task: task, ctx: context.WithoutCancel(ctx)}
	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		p.logger.Warn("background task rejected", zap.String("task", name))
		return ErrPoolFull
	}
}

// Go 提交任务并忽略拒绝错误，返回是否已入队
func (p *GoroutinePool) Go(ctx context.Context, name string, task Task) bool {
	return p.Submit(ctx, name, task) == nil
}

func (p *GoroutinePool) ensureWorker() {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
				p.logger.Warn("background task failed", zap.String("task", wrapper.name), zap.Error(err))
			} else {
				p.completed.Add(1)
			}
			if p.onDone != nil {
				p.onDone(wrapper.name, err)
			}

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// 空闲超时，队列为空时退出
			if len(p.taskQueue) == 0 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *GoroutinePool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", zap.String("task", wrapper.name), zap.Any("panic", r))
			err = errors.New("task panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(wrapper.ctx, p.taskTimeout)
	defer cancel()
	return wrapper.task(ctx)
}

// Close 停止接收任务并等待已入队任务执行完毕
func (p *GoroutinePool) Close() {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return
	}
	close(p.taskQueue)
	p.closeMu.Unlock()

	// 没有 worker 时队列里可能还有任务，拉起一个 worker 排空后退出
	if len(p.taskQueue) > 0 {
		p.ensureWorker()
	}
	p.wg.Wait()
}

// Stats 返回池统计
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats 池统计
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

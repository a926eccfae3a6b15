package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts 回退链的默认尝试上限
const DefaultMaxAttempts = 3

// ErrAllAttemptsFailed 回退链上的所有模型均失败
var ErrAllAttemptsFailed = errors.New("all model attempts failed")

// AttemptRecord 一次模型尝试的记录
type AttemptRecord struct {
	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Succeeded bool          `json:"succeeded"`
}

// AttemptResult 回退链执行结果
type AttemptResult[T any] struct {
	Value T
	Model string
	Log   []AttemptRecord
	Err   error
}

// Models 按尝试顺序返回模型名
func (r AttemptResult[T]) Models() []string {
	return AttemptedModels(r.Log)
}

// AttemptedModels 从尝试日志中提取模型名
func AttemptedModels(log []AttemptRecord) []string {
	models := make([]string, len(log))
	for i, rec := range log {
		models[i] = rec.Model
	}
	return models
}

// AttemptError 携带完整尝试日志的失败错误
type AttemptError struct {
	Attempts []AttemptRecord
	Last     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s) [%s]: %v",
		ErrAllAttemptsFailed, len(e.Attempts), strings.Join(AttemptedModels(e.Attempts), ", "), e.Last)
}

// Unwrap 同时暴露哨兵错误与最后一次失败原因
func (e *AttemptError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAllAttemptsFailed}
	}
	return []error{ErrAllAttemptsFailed, e.Last}
}

// Attempt 沿模型链依次调用 fn，直到成功或用完 maxAttempts 次。
// 日志在每次迭代时复制追加，已返回给调用方的切片不会再被修改。
// 父 ctx 取消后立即停止，不再尝试后续模型。
func Attempt[T any](ctx context.Context, chain []string, maxAttempts int, fn func(ctx context.Context, model string) (T, error)) AttemptResult[T] {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		log     []AttemptRecord
		lastErr error
		zero    T
	)

	for i, model := range chain {
		if i >= maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		start := time.Now()
		value, err := fn(ctx, model)
		rec := AttemptRecord{Model: model, Latency: time.Since(start), Succeeded: err == nil}
		if err != nil {
			rec.Error = err.Error()
		}
		log = appendRecord(log, rec)

		if err == nil {
			return AttemptResult[T]{Value: value, Model: model, Log: log}
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("empty model chain")
	}
	return AttemptResult[T]{
		Value: zero,
		Log:   log,
		Err:   &AttemptError{Attempts: log, Last: lastErr},
	}
}

func appendRecord(log []AttemptRecord, rec AttemptRecord) []AttemptRecord {
	next := make([]AttemptRecord, len(log), len(log)+1)
	copy(next, log)
	return append(next, rec)
}

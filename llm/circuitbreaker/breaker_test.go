package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm"
	"github.com/BaSui01/inferflow/testutil/mocks"
	"github.com/BaSui01/inferflow/types"
)

var errUpstream = types.NewError(types.ErrUpstreamError, "bad gateway")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock, *[]string) {
	var transitions []string
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New("gpt-4o", Config{
		Threshold:    threshold,
		ResetTimeout: reset,
		OnStateChange: func(key string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", key, from, to))
		},
	}, zap.NewNop())
	b.now = clock.now
	return b, clock, &transitions
}

func fail(t *testing.T, b *Breaker, err error) {
	t.Helper()
	require.NoError(t, b.Allow())
	b.Done(err)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Threshold: -1}.normalize()
	assert.Equal(t, DefaultConfig().Threshold, cfg.Threshold)
	assert.Equal(t, DefaultConfig().ResetTimeout, cfg.ResetTimeout)
	assert.Equal(t, 1, cfg.HalfOpenMaxCalls)

	custom := Config{Threshold: 2, ResetTimeout: time.Second, HalfOpenMaxCalls: 3}.normalize()
	assert.Equal(t, 2, custom.Threshold)
	assert.Equal(t, time.Second, custom.ResetTimeout)
	assert.Equal(t, 3, custom.HalfOpenMaxCalls)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _, transitions := newTestBreaker(3, time.Minute)

	fail(t, b, errUpstream)
	fail(t, b, errUpstream)
	// 成功清零连续失败计数
	fail(t, b, nil)
	fail(t, b, errUpstream)
	fail(t, b, errUpstream)
	assert.Equal(t, StateClosed, b.State())

	fail(t, b, errUpstream)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
	assert.Equal(t, []string{"gpt-4o:closed->open"}, *transitions)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock, transitions := newTestBreaker(1, 10*time.Second)

	fail(t, b, errUpstream)
	require.Equal(t, StateOpen, b.State())

	clock.advance(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	clock.advance(6 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	// 半开只放行一个试探请求
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.Done(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{
		"gpt-4o:closed->open",
		"gpt-4o:open->half_open",
		"gpt-4o:half_open->closed",
	}, *transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock, _ := newTestBreaker(1, 10*time.Second)

	fail(t, b, errUpstream)
	clock.advance(11 * time.Second)
	fail(t, b, errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// 重新计时
	clock.advance(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_IgnoresClientErrorsAndCancellation(t *testing.T) {
	b, _, _ := newTestBreaker(1, time.Minute)

	fail(t, b, types.NewError(types.ErrInvalidRequest, "bad prompt"))
	fail(t, b, types.NewError(types.ErrContextTooLong, "too long"))
	fail(t, b, fmt.Errorf("wrapped: %w", context.Canceled))
	assert.Equal(t, StateClosed, b.State())

	fail(t, b, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _, transitions := newTestBreaker(1, time.Hour)
	fail(t, b, errors.New("boom"))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
	assert.Equal(t, "gpt-4o:open->closed", (*transitions)[len(*transitions)-1])
}

func TestGroup_IndependentKeys(t *testing.T) {
	g := NewGroup(Config{Threshold: 1, ResetTimeout: time.Hour}, nil)

	a := g.Get("a")
	require.NoError(t, a.Allow())
	a.Done(errUpstream)

	assert.Same(t, a, g.Get("a"))
	assert.NoError(t, g.Get("b").Allow())
	assert.Equal(t, map[string]State{"a": StateOpen, "b": StateClosed}, g.States())
}

func TestGroup_ConcurrentAccess(t *testing.T) {
	g := NewGroup(Config{Threshold: 1000}, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := g.Get(fmt.Sprintf("m%d", i%5))
			if b.Allow() == nil {
				b.Done(errUpstream)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, g.States(), 5)
}

func TestProvider_SkipsOpenModel(t *testing.T) {
	inner := mocks.NewMockProvider().
		WithModelError("gpt-4o", errUpstream).
		WithModelResponse("gpt-4o-mini", "fallback answer")
	p := WrapProvider(inner, Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Completion(ctx, &llm.ChatRequest{Model: "gpt-4o"})
		require.Error(t, err)
	}
	require.Equal(t, 2, inner.CallCount())

	// 熔断后不再打到上游，返回可重试错误
	_, err := p.Completion(ctx, &llm.ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 2, inner.CallCount())

	// 其它模型不受影响
	resp, err := p.Completion(ctx, &llm.ChatRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)
	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", choice.Message.Content)

	assert.Equal(t, StateOpen, p.States()["gpt-4o"])
	assert.Equal(t, "mock", p.Name())
}

func TestProvider_FallbackChainMovesPastOpenModel(t *testing.T) {
	inner := mocks.NewMockProvider().
		WithModelError("primary", errUpstream).
		WithModelResponse("secondary", "ok")
	p := WrapProvider(inner, Config{Threshold: 1, ResetTimeout: time.Hour}, nil)

	call := func(ctx context.Context, model string) (*llm.ChatResponse, error) {
		return p.Completion(ctx, &llm.ChatRequest{Model: model})
	}
	chain := []string{"primary", "secondary"}

	first := llm.Attempt(context.Background(), chain, 2, call)
	require.NoError(t, first.Err)
	assert.Equal(t, "secondary", first.Model)

	second := llm.Attempt(context.Background(), chain, 2, call)
	require.NoError(t, second.Err)
	assert.Equal(t, []string{"primary", "secondary"}, second.Models())
	assert.Contains(t, second.Log[0].Error, "temporarily unavailable")
	// primary 只被真正调用过一次
	assert.Equal(t, []string{"primary", "secondary", "secondary"}, inner.CalledModels())
}

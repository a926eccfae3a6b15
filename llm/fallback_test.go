package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt_FirstSucceeds(t *testing.T) {
	calls := 0
	res := Attempt(context.Background(), []string{"a", "b"}, 3, func(ctx context.Context, model string) (string, error) {
		calls++
		return "ok:" + model, nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok:a", res.Value)
	assert.Equal(t, "a", res.Model)
	assert.Equal(t, []string{"a"}, res.Models())
	assert.Equal(t, 1, calls)
	assert.True(t, res.Log[0].Succeeded)
}

func TestAttempt_FallsBackInOrder(t *testing.T) {
	res := Attempt(context.Background(), []string{"a", "b", "c"}, 3, func(ctx context.Context, model string) (int, error) {
		if model != "c" {
			return 0, errors.New(model + " down")
		}
		return 7, nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 7, res.Value)
	assert.Equal(t, []string{"a", "b", "c"}, res.Models())
	assert.Equal(t, "a down", res.Log[0].Error)
	assert.False(t, res.Log[1].Succeeded)
}

func TestAttempt_RespectsCeiling(t *testing.T) {
	res := Attempt(context.Background(), []string{"a", "b", "c", "d"}, 3, func(ctx context.Context, model string) (int, error) {
		return 0, errors.New("fail")
	})

	require.Error(t, res.Err)
	assert.Equal(t, []string{"a", "b", "c"}, res.Models())

	var attemptErr *AttemptError
	require.True(t, errors.As(res.Err, &attemptErr))
	assert.Len(t, attemptErr.Attempts, 3)
	assert.ErrorIs(t, res.Err, ErrAllAttemptsFailed)
	assert.Contains(t, res.Err.Error(), "a, b, c")
}

func TestAttempt_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res := Attempt(ctx, []string{"a", "b", "c"}, 3, func(ctx context.Context, model string) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestAttempt_EmptyChain(t *testing.T) {
	res := Attempt(context.Background(), nil, 3, func(ctx context.Context, model string) (int, error) {
		return 1, nil
	})
	require.Error(t, res.Err)
	assert.Empty(t, res.Log)
}

func TestFirstChoice_Fallback(t *testing.T) {
	_, err := FirstChoice(nil)
	assert.Error(t, err)

	_, err = FirstChoice(&ChatResponse{})
	assert.Error(t, err)

	c, err := FirstChoice(&ChatResponse{Choices: []ChatChoice{{Message: Message{Content: "hi"}}}})
	require.NoError(t, err)
	assert.Equal(t, "hi", c.Message.Content)
}

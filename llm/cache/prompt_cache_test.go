package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/inferflow/llm/tier"
)

func TestCompress(t *testing.T) {
	in := "You are a helpful assistant.   In order to answer,\n\n\n\tdo not guess.\nIt is important."
	out := Compress(in)
	assert.Equal(t, "You're a helpful assistant. To answer,\n\ndon't guess.\nIt's important.", out)
}

func TestCompress_WordBoundaries(t *testing.T) {
	// "undo not" 中的 "do not" 不是完整短语
	assert.Equal(t, "undo nothing", Compress("undo   nothing"))
}

func TestCompress_Idempotent(t *testing.T) {
	fragment := rapid.SampledFrom([]string{
		"in order to", "in order", "to", "do not", "It is", "you are", "  ", "\n", "\n\n\n",
		"as well as", "make sure to", "for example", "word", "Cannot", "\t",
	})
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOf(fragment).Draw(t, "parts")
		text := ""
		for _, p := range parts {
			text += p + " "
		}
		once := Compress(text)
		if twice := Compress(once); twice != once {
			t.Fatalf("not idempotent:\n%q\n%q", once, twice)
		}
	})
}

func TestPromptCache_GetOrCache(t *testing.T) {
	pc, err := NewPromptCache(2, zap.NewNop())
	require.NoError(t, err)

	full := "You are a code reviewer.   Do not approve untested code."
	free := pc.GetOrCache("reviewer", full, tier.TierFree)
	assert.Equal(t, "You're a code reviewer. Don't approve untested code.", free)
	assert.Equal(t, full, pc.GetOrCache("reviewer", full, tier.TierPro))
	assert.Equal(t, full, pc.GetOrCache("reviewer", full, tier.TierEnterprise))
	assert.Equal(t, free, pc.GetOrCache("reviewer", full, "unknown"))

	s := pc.Stats()
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(3), s.Hits)

	// 原文变化后重新压缩
	assert.Equal(t, "Don't.", pc.GetOrCache("reviewer", "Do not.", tier.TierFree))
	assert.Equal(t, int64(2), pc.Stats().Misses)

	pc.GetOrCache("a", "a", tier.TierPro)
	pc.GetOrCache("b", "b", tier.TierPro)
	assert.Equal(t, 2, pc.Len())
}

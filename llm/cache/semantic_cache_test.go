package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/llm/embedding"
	"github.com/BaSui01/inferflow/llm/tier"
	"github.com/BaSui01/inferflow/testutil"
)

// tableEmbedder 按查询返回预置向量
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string]embedding.Vector
	err     error
	calls   int
}

func (e *tableEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return embedding.Vector{}, e.err
	}
	v, ok := e.vectors[NormalizeKey(text)]
	if !ok {
		return embedding.Vector{Values: []float64{0, 0, 1}, Source: embedding.SourceServer}, nil
	}
	return v, nil
}

func server(vals ...float64) embedding.Vector {
	return embedding.Vector{Values: vals, Source: embedding.SourceServer}
}

func newSemanticFixture(t *testing.T, emb Embedder) (*ResponseCache, *SemanticCache) {
	t.Helper()
	responses := newTestResponseCache(100)
	sc := NewSemanticCache(responses, emb, WithSemanticLogger(zap.NewNop()), WithSemanticMaxSize(100))
	return responses, sc
}

func TestSemanticCache_FuzzyPrecheckSkipsEmbedding(t *testing.T) {
	emb := &tableEmbedder{}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("build a rest api in go", "api")

	m, ok := sc.FindSimilar(context.Background(), "build a rest api in golang", DefaultSemanticThreshold)
	require.True(t, ok)
	assert.Equal(t, "api", m.Payload)
	assert.Equal(t, LayerFuzzy, m.Layer)
	assert.Zero(t, emb.calls)
}

func TestSemanticCache_CosineMatch(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string]embedding.Vector{
		"how to authenticate users":    server(1, 0, 0),
		"implementing sign in flow":    server(0.95, 0.1, 0),
		"unrelated question on colors": server(0, 1, 0),
	}}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("how to authenticate users", "auth-guide")
	_, err := sc.AddEmbeddingSync(context.Background(), "how to authenticate users")
	require.NoError(t, err)

	m, ok := sc.FindSimilar(context.Background(), "implementing sign in flow", DefaultSemanticThreshold)
	require.True(t, ok)
	assert.Equal(t, "auth-guide", m.Payload)
	assert.Equal(t, LayerSemantic, m.Layer)
	assert.Equal(t, string(embedding.SourceServer), m.Source)
	assert.GreaterOrEqual(t, m.Similarity, DefaultSemanticThreshold)

	_, ok = sc.FindSimilar(context.Background(), "unrelated question on colors", DefaultSemanticThreshold)
	assert.False(t, ok)
}

func TestSemanticCache_NeverBelowThreshold(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string]embedding.Vector{
		"stored query one": server(1, 0, 0),
		"incoming request": server(0.8, 0.6, 0),
	}}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("stored query one", "x")
	_, err := sc.AddEmbeddingSync(context.Background(), "stored query one")
	require.NoError(t, err)

	// cos = 0.8
	_, ok := sc.FindSimilar(context.Background(), "incoming request", 0.85)
	assert.False(t, ok)
	m, ok := sc.FindSimilar(context.Background(), "incoming request", 0.75)
	require.True(t, ok)
	assert.InDelta(t, 0.8, m.Similarity, 1e-9)
}

func TestSemanticCache_SourcesNotMixed(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string]embedding.Vector{
		"stored query one": {Values: []float64{1, 0, 0}, Source: embedding.SourceHash},
		"incoming request": server(1, 0, 0),
	}}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("stored query one", "x")
	src, err := sc.AddEmbeddingSync(context.Background(), "stored query one")
	require.NoError(t, err)
	assert.Equal(t, embedding.SourceHash, src)

	_, ok := sc.FindSimilar(context.Background(), "incoming request", 0.5)
	assert.False(t, ok)
}

func TestSemanticCache_EmbeddingFailureIsMiss(t *testing.T) {
	emb := &tableEmbedder{err: errors.New("embedding service down")}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("something cached", "v")

	_, ok := sc.FindSimilar(context.Background(), "completely different words", 0.5)
	assert.False(t, ok)

	_, err := sc.AddEmbeddingSync(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, 0, sc.Len())
}

func TestSemanticCache_StaleLinkIsMiss(t *testing.T) {
	emb := &tableEmbedder{vectors: map[string]embedding.Vector{
		"stored query one": server(1, 0, 0),
		"incoming request": server(1, 0, 0),
	}}
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("stored query one", "x")
	_, err := sc.AddEmbeddingSync(context.Background(), "stored query one")
	require.NoError(t, err)

	responses.Delete("stored query one")
	_, ok := sc.FindSimilar(context.Background(), "incoming request", 0.5)
	assert.False(t, ok)
	assert.Equal(t, 0, sc.Len(), "stale entries are dropped")
}

func TestSemanticCache_WithHashEmbedder(t *testing.T) {
	emb := embedding.NewEmbedder(nil)
	responses, sc := newSemanticFixture(t, emb)
	responses.Set("explain goroutine leaks in servers", "leaks")
	_, err := sc.AddEmbeddingSync(context.Background(), "explain goroutine leaks in servers")
	require.NoError(t, err)

	// Jaccard 0.5 低于预检阈值，由哈希向量命中（余弦约 0.67）
	m, ok := sc.FindSimilar(context.Background(), "How do goroutine leaks in servers happen", 0.6)
	require.True(t, ok)
	assert.Equal(t, "leaks", m.Payload)
	assert.Equal(t, LayerSemantic, m.Layer)
	assert.Equal(t, string(embedding.SourceHash), m.Source)

	_, ok = sc.FindSimilar(context.Background(), "How do goroutine leaks in servers happen", 0.9)
	assert.False(t, ok)
}

func TestSemanticCache_TierResizeAndEviction(t *testing.T) {
	emb := &tableEmbedder{}
	_, sc := newSemanticFixture(t, emb)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sc.now = clock.Now

	sc.SetTierLimits(tier.Limits{SemanticCacheLimit: 2})
	sc.Put("first", server(1, 0, 0))
	sc.Put("second", server(0, 1, 0))
	sc.Put("third", server(0, 0, 1))
	assert.Equal(t, 2, sc.Len())
	assert.Equal(t, int64(1), sc.Stats().Evictions)

	sc.SetMaxSize(1)
	assert.Equal(t, 1, sc.Len())
}

type recordingSpawner struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSpawner) Go(ctx context.Context, name string, task func(ctx context.Context) error) bool {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	_ = task(ctx)
	return true
}

func TestSemanticCache_AddEmbeddingAsync(t *testing.T) {
	emb := &tableEmbedder{}
	responses := newTestResponseCache(10)
	spawner := &recordingSpawner{}
	sc := NewSemanticCache(responses, emb, WithSpawner(spawner))

	sc.AddEmbedding(context.Background(), "pooled query")
	assert.Equal(t, 1, sc.Len())
	assert.Equal(t, []string{"semantic_cache.add_embedding"}, spawner.names)

	plain := NewSemanticCache(responses, emb)
	ctx, cancel := context.WithCancel(context.Background())
	plain.AddEmbedding(ctx, "goroutine query")
	cancel()
	testutil.AssertEventuallyTrue(t, func() bool { return plain.Len() == 1 }, 2*time.Second)
}

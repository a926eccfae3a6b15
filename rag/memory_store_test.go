package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKnowledgeStore_AddValidation(t *testing.T) {
	s := NewMemoryKnowledgeStore()
	assert.Error(t, s.Add("", Document{ID: "x"}))
	assert.Error(t, s.Add("p", Document{}))

	require.NoError(t, s.Add("p", Document{ID: "x", Content: "one"}))
	require.NoError(t, s.Add("p", Document{ID: "x", Content: "two"}))

	parts, err := s.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Partition{{Name: "p", DocCount: 1}}, parts)
}

func TestMemoryKnowledgeStore_VectorSearch(t *testing.T) {
	s := NewMemoryKnowledgeStore()
	require.NoError(t, s.Add("p",
		Document{ID: "a", Embedding: []float64{1, 0}},
		Document{ID: "b", Embedding: []float64{0.6, 0.8}},
		Document{ID: "c", Embedding: []float64{0, 1}},
		Document{ID: "no-vec"},
	))

	hits, err := s.VectorSearch(context.Background(), "p", []float64{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-9)

	hits, _ = s.VectorSearch(context.Background(), "p", []float64{1, 0}, 0, 1)
	assert.Len(t, hits, 1)

	hits, _ = s.VectorSearch(context.Background(), "missing", []float64{1, 0}, 0, 10)
	assert.Empty(t, hits)
}

func TestMemoryKnowledgeStore_KeywordSearchNormalized(t *testing.T) {
	s := NewMemoryKnowledgeStore()
	require.NoError(t, s.Add("p",
		Document{ID: "a", Content: "redis cache eviction policy"},
		Document{ID: "b", Content: "redis redis cluster"},
		Document{ID: "c", Content: "postgres vacuum"},
	))

	hits, err := s.KeywordSearch(context.Background(), "p", "Redis eviction?", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, 1.0, hits[0].Score)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}

	none, _ := s.KeywordSearch(context.Background(), "p", "...", 10)
	assert.Empty(t, none)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float64{2, 0}, []float64{1, 0}), 1e-9)
	assert.Zero(t, cosine([]float64{1}, []float64{1, 0}))
	assert.Zero(t, cosine([]float64{0, 0}, []float64{1, 0}))
}

package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, p)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func newQdrantServer(t *testing.T) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.Method + " " + r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		switch r.URL.Path {
		case "/collections":
			_, _ = w.Write([]byte(`{"result":{"collections":[{"name":"small"},{"name":"big"}]}}`))
		case "/collections/small/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":2}}`))
		case "/collections/big/points/count":
			_, _ = w.Write([]byte(`{"result":{"count":9}}`))
		case "/collections/big/points/search":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 0.5, body["score_threshold"])
			_, _ = w.Write([]byte(`{"result":[
				{"id":"u1","score":0.93,"payload":{"doc_id":"d1","content":"alpha","metadata":{"source":"a.md"}}},
				{"id":"u2","score":0.40,"payload":{"doc_id":"d2","content":"beta"}}
			]}`))
		case "/collections/big/points/scroll":
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"id":"u1","payload":{"doc_id":"d1","content":"alpha release notes"}},
				{"id":"u3","payload":{"content":"alpha alpha guide"}}
			]}}`))
		case "/collections/big/points":
			var body struct {
				Points []struct {
					ID string `json:"id"`
				} `json:"points"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, qdrantPointID("d1"), body.Points[0].ID)
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"not found"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func TestQdrantKnowledgeStore_Partitions(t *testing.T) {
	srv, _ := newQdrantServer(t)
	s := NewQdrantKnowledgeStore(QdrantConfig{BaseURL: srv.URL, APIKey: "secret"}, zap.NewNop())

	parts, err := s.Partitions(context.Background())
	require.NoError(t, err)
	name, ok := SelectPartition(parts)
	require.True(t, ok)
	assert.Equal(t, "big", name)
}

func TestQdrantKnowledgeStore_Search(t *testing.T) {
	srv, _ := newQdrantServer(t)
	s := NewQdrantKnowledgeStore(QdrantConfig{BaseURL: srv.URL, APIKey: "secret"}, nil)
	ctx := context.Background()

	hits, err := s.VectorSearch(ctx, "big", []float64{1, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1", hits[0].ID)
	assert.Equal(t, "a.md", hits[0].Metadata["source"])

	kw, err := s.KeywordSearch(ctx, "big", "alpha", 5)
	require.NoError(t, err)
	require.Len(t, kw, 2)
	assert.Equal(t, "u3", kw[0].ID, "point id is used when payload has no doc_id")
	assert.Equal(t, 1.0, kw[0].Score)

	_, err = s.VectorSearch(ctx, "missing", []float64{1}, 0, 5)
	assert.Error(t, err)
	_, err = s.VectorSearch(ctx, "big", nil, 0, 5)
	assert.Error(t, err)
}

func TestQdrantKnowledgeStore_Upsert(t *testing.T) {
	srv, log := newQdrantServer(t)
	s := NewQdrantKnowledgeStore(QdrantConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)

	require.NoError(t, s.Upsert(context.Background(), "big", []Document{{ID: "d1", Content: "alpha", Embedding: []float64{1}}}))
	assert.Contains(t, log.all(), "PUT /collections/big/points")
	assert.Error(t, s.Upsert(context.Background(), "big", []Document{{ID: "d2"}}))
}

func TestQdrantKnowledgeStore_WithRetriever(t *testing.T) {
	srv, _ := newQdrantServer(t)
	s := NewQdrantKnowledgeStore(QdrantConfig{BaseURL: srv.URL, APIKey: "secret"}, nil)
	r := NewHybridRetriever(s, stubEmbedder{vectors: map[string][]float64{"alpha": {1, 0}}})

	results, err := r.HybridSearch(context.Background(), "alpha", SearchOptions{Threshold: 0.5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "d1", results[0].ID)
}

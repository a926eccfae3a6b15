package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QdrantConfig configures the Qdrant KnowledgeStore.
//
// 每个集合对应一个分区；文档原始 ID、正文与元数据保存在 payload 中。
type QdrantConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`

	PayloadContentField  string `json:"payload_content_field"`  // default "content"
	PayloadMetadataField string `json:"payload_metadata_field"` // default "metadata"
	PayloadIDField       string `json:"payload_id_field"`       // default "doc_id"

	// 关键词检索先按全文过滤取候选，再在本地做 BM25
	KeywordCandidates int `json:"keyword_candidates"`
}

// QdrantKnowledgeStore implements KnowledgeStore using Qdrant's REST API.
type QdrantKnowledgeStore struct {
	cfg     QdrantConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewQdrantKnowledgeStore creates a Qdrant-backed KnowledgeStore.
func NewQdrantKnowledgeStore(cfg QdrantConfig, logger *zap.Logger) *QdrantKnowledgeStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PayloadContentField == "" {
		cfg.PayloadContentField = "content"
	}
	if cfg.PayloadMetadataField == "" {
		cfg.PayloadMetadataField = "metadata"
	}
	if cfg.PayloadIDField == "" {
		cfg.PayloadIDField = "doc_id"
	}
	if cfg.KeywordCandidates <= 0 {
		cfg.KeywordCandidates = 100
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}

	return &QdrantKnowledgeStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("d9bde6d4-4f3a-4e6b-8f7a-5d8d2f3b4c1a")

// qdrantPointID derives a stable UUID from the document ID.
func qdrantPointID(docID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(docID)).String()
}

func (s *QdrantKnowledgeStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *QdrantKnowledgeStore) toDocument(p qdrantPoint) Document {
	doc := Document{}
	if v, ok := p.Payload[s.cfg.PayloadIDField].(string); ok {
		doc.ID = v
	}
	if v, ok := p.Payload[s.cfg.PayloadContentField].(string); ok {
		doc.Content = v
	}
	if m, ok := p.Payload[s.cfg.PayloadMetadataField].(map[string]any); ok {
		doc.Metadata = m
	}
	if doc.ID == "" {
		doc.ID = fmt.Sprint(p.ID)
	}
	return doc
}

// Upsert 写入文档到分区（集合需已存在）
func (s *QdrantKnowledgeStore) Upsert(ctx context.Context, partition string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}
	points := make([]point, 0, len(docs))
	for i, doc := range docs {
		if doc.ID == "" || len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] needs id and embedding", i)
		}
		points = append(points, point{
			ID:     qdrantPointID(doc.ID),
			Vector: doc.Embedding,
			Payload: map[string]any{
				s.cfg.PayloadIDField:       doc.ID,
				s.cfg.PayloadContentField:  doc.Content,
				s.cfg.PayloadMetadataField: doc.Metadata,
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(partition))
	if err := s.doJSON(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return err
	}
	s.logger.Debug("qdrant upsert completed", zap.String("partition", partition), zap.Int("count", len(docs)))
	return nil
}

// VectorSearch 实现 KnowledgeStore
func (s *QdrantKnowledgeStore) VectorSearch(ctx context.Context, partition string, vector []float64, threshold float64, limit int) ([]ScoredDocument, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(partition))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]ScoredDocument, 0, len(resp.Result))
	for _, p := range resp.Result {
		if p.Score < threshold {
			continue
		}
		out = append(out, ScoredDocument{Document: s.toDocument(p), Score: p.Score})
	}
	return rank(out, limit), nil
}

// KeywordSearch 实现 KnowledgeStore：全文过滤取候选后本地 BM25 评分
func (s *QdrantKnowledgeStore) KeywordSearch(ctx context.Context, partition, query string, limit int) ([]ScoredDocument, error) {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	should := make([]map[string]any, 0, len(terms))
	for _, term := range terms {
		should = append(should, map[string]any{
			"key":   s.cfg.PayloadContentField,
			"match": map[string]any{"text": term},
		})
	}
	req := map[string]any{
		"limit":        s.cfg.KeywordCandidates,
		"with_payload": true,
		"with_vector":  false,
		"filter":       map[string]any{"should": should},
	}
	var resp struct {
		Result struct {
			Points []qdrantPoint `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/scroll", url.PathEscape(partition))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		docs = append(docs, s.toDocument(p))
	}
	scores := bm25Scores(query, docs)

	out := make([]ScoredDocument, 0, len(scores))
	for _, doc := range docs {
		if score, ok := scores[doc.ID]; ok {
			out = append(out, ScoredDocument{Document: doc, Score: score})
		}
	}
	return rank(out, limit), nil
}

// Partitions 实现 KnowledgeStore：列出集合并精确计数
func (s *QdrantKnowledgeStore) Partitions(ctx context.Context) ([]Partition, error) {
	var list struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/collections", nil, &list); err != nil {
		return nil, err
	}

	out := make([]Partition, 0, len(list.Result.Collections))
	for _, c := range list.Result.Collections {
		var count struct {
			Result struct {
				Count int `json:"count"`
			} `json:"result"`
		}
		path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(c.Name))
		if err := s.doJSON(ctx, http.MethodPost, path, map[string]any{"exact": true}, &count); err != nil {
			s.logger.Warn("qdrant count failed", zap.String("collection", c.Name), zap.Error(err))
			continue
		}
		out = append(out, Partition{Name: c.Name, DocCount: count.Result.Count})
	}
	return out, nil
}

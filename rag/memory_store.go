package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryKnowledgeStore 进程内知识库，分区互相隔离
type MemoryKnowledgeStore struct {
	mu         sync.RWMutex
	partitions map[string][]Document
}

// NewMemoryKnowledgeStore 创建空知识库
func NewMemoryKnowledgeStore() *MemoryKnowledgeStore {
	return &MemoryKnowledgeStore{partitions: make(map[string][]Document)}
}

// Add 写入文档，同一分区内相同 ID 的文档会被替换
func (s *MemoryKnowledgeStore) Add(partition string, docs ...Document) error {
	if partition == "" {
		return fmt.Errorf("partition is required")
	}
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.partitions[partition]
	index := make(map[string]int, len(existing))
	for i, d := range existing {
		index[d.ID] = i
	}
	for _, doc := range docs {
		if i, ok := index[doc.ID]; ok {
			existing[i] = doc
			continue
		}
		index[doc.ID] = len(existing)
		existing = append(existing, doc)
	}
	s.partitions[partition] = existing
	return nil
}

func (s *MemoryKnowledgeStore) snapshot(partition string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.partitions[partition]
	out := make([]Document, len(docs))
	copy(out, docs)
	return out
}

// VectorSearch 实现 KnowledgeStore
func (s *MemoryKnowledgeStore) VectorSearch(ctx context.Context, partition string, vector []float64, threshold float64, limit int) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ScoredDocument
	for _, doc := range s.snapshot(partition) {
		if len(doc.Embedding) == 0 {
			continue
		}
		score := cosine(vector, doc.Embedding)
		if score < threshold || score <= 0 {
			continue
		}
		out = append(out, ScoredDocument{Document: doc, Score: score})
	}
	return rank(out, limit), nil
}

// KeywordSearch 实现 KnowledgeStore
func (s *MemoryKnowledgeStore) KeywordSearch(ctx context.Context, partition, query string, limit int) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := s.snapshot(partition)
	scores := bm25Scores(query, docs)

	out := make([]ScoredDocument, 0, len(scores))
	for _, doc := range docs {
		if score, ok := scores[doc.ID]; ok {
			out = append(out, ScoredDocument{Document: doc, Score: score})
		}
	}
	return rank(out, limit), nil
}

// Partitions 实现 KnowledgeStore，按名称排序
func (s *MemoryKnowledgeStore) Partitions(ctx context.Context) ([]Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Partition, 0, len(s.partitions))
	for name, docs := range s.partitions {
		out = append(out, Partition{Name: name, DocCount: len(docs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// rank 按分数降序、ID 升序排序后截断；limit <= 0 不截断
func rank(docs []ScoredDocument, limit int) []ScoredDocument {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

package rag

import (
	"context"

	"github.com/BaSui01/inferflow/llm/embedding"
	"github.com/BaSui01/inferflow/llm/tokenizer"
)

// Document 知识库中的一个文档块
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float64      `json:"embedding,omitempty"`
}

// ScoredDocument 单侧检索命中
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// Partition 知识分区及其文档数
type Partition struct {
	Name     string `json:"name"`
	DocCount int    `json:"doc_count"`
}

// KnowledgeStore 知识库
type KnowledgeStore interface {
	// VectorSearch 返回余弦相似度不低于 threshold 的文档，按分数降序
	VectorSearch(ctx context.Context, partition string, vector []float64, threshold float64, limit int) ([]ScoredDocument, error)
	// KeywordSearch 返回关键词得分在 (0,1] 内的文档，按分数降序
	KeywordSearch(ctx context.Context, partition, query string, limit int) ([]ScoredDocument, error)
	// Partitions 列出分区
	Partitions(ctx context.Context) ([]Partition, error)
}

// QueryEmbedder 查询向量化，由 *embedding.Embedder 实现
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) (embedding.Vector, error)
}

// RetrievalResult 合并后的检索结果
type RetrievalResult struct {
	ID            string         `json:"id"`
	ChunkText     string         `json:"chunk_text"`
	VectorScore   float64        `json:"vector_score"`
	KeywordScore  float64        `json:"keyword_score"`
	CombinedScore float64        `json:"combined_score"`
	SourceLabel   string         `json:"source_label"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SearchOptions 混合检索参数
type SearchOptions struct {
	Partition     string  `json:"partition,omitempty"`
	Limit         int     `json:"limit"`
	Threshold     float64 `json:"threshold"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
}

// DefaultSearchOptions 默认检索参数
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:         5,
		Threshold:     0.1,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
	}
}

// AugmentedContext 格式化后的检索上下文
type AugmentedContext struct {
	Context         string             `json:"context"`
	Sections        tokenizer.Sections `json:"sections"`
	Citations       []string           `json:"citations"`
	EstimatedTokens int                `json:"estimated_tokens"`
	Results         []RetrievalResult  `json:"results"`
}

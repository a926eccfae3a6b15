package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/inferflow/llm/tokenizer"
)

var (
	// ErrNoPartition 知识库中没有可用分区
	ErrNoPartition = errors.New("no knowledge partition available")

	errNoEmbedder = errors.New("no query embedder configured")
)

// RetrieverOption 配置 HybridRetriever
type RetrieverOption func(*HybridRetriever)

// WithSearchDefaults 设置默认检索参数
func WithSearchDefaults(opts SearchOptions) RetrieverOption {
	return func(r *HybridRetriever) { r.defaults = opts }
}

// WithRetrievalTimeout 设置单次混合检索超时
func WithRetrievalTimeout(d time.Duration) RetrieverOption {
	return func(r *HybridRetriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetrieverLogger 设置日志
func WithRetrieverLogger(logger *zap.Logger) RetrieverOption {
	return func(r *HybridRetriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// HybridRetriever 混合检索器
type HybridRetriever struct {
	store    KnowledgeStore
	embedder QueryEmbedder
	defaults SearchOptions
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHybridRetriever 创建混合检索器；embedder 为空时只做关键词检索
func NewHybridRetriever(store KnowledgeStore, embedder QueryEmbedder, opts ...RetrieverOption) *HybridRetriever {
	r := &HybridRetriever{
		store:    store,
		embedder: embedder,
		defaults: DefaultSearchOptions(),
		timeout:  3 * time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "hybrid_retriever"))
	return r
}

func (r *HybridRetriever) withDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = r.defaults.Limit
	}
	if opts.VectorWeight == 0 && opts.KeywordWeight == 0 {
		opts.VectorWeight = r.defaults.VectorWeight
		opts.KeywordWeight = r.defaults.KeywordWeight
	}
	if opts.Partition == "" {
		opts.Partition = r.defaults.Partition
	}
	return opts
}

// SelectPartition 选择文档数最多的分区，数量相同时取名称较小者
func SelectPartition(partitions []Partition) (string, bool) {
	best := -1
	for i, p := range partitions {
		if p.DocCount <= 0 {
			continue
		}
		if best < 0 || p.DocCount > partitions[best].DocCount ||
			(p.DocCount == partitions[best].DocCount && p.Name < partitions[best].Name) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return partitions[best].Name, true
}

func (r *HybridRetriever) resolvePartition(ctx context.Context, partition string) (string, error) {
	if partition != "" {
		return partition, nil
	}
	partitions, err := r.store.Partitions(ctx)
	if err != nil {
		return "", fmt.Errorf("list partitions: %w", err)
	}
	name, ok := SelectPartition(partitions)
	if !ok {
		return "", ErrNoPartition
	}
	return name, nil
}

// HybridSearch 并发执行向量与关键词检索并合并。
// 单侧失败时降级到另一侧；两侧都失败返回空结果。只在父 ctx 取消时返回错误。
func (r *HybridRetriever) HybridSearch(ctx context.Context, query string, opts SearchOptions) ([]RetrievalResult, error) {
	if r.store == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	opts = r.withDefaults(opts)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	partition, err := r.resolvePartition(ctx, opts.Partition)
	if err != nil {
		if parent := context.Cause(ctx); parent != nil && !errors.Is(parent, context.DeadlineExceeded) {
			return nil, parent
		}
		r.logger.Debug("no partition selected", zap.Error(err))
		return nil, nil
	}

	// 两侧各取双倍候选，合并后再截断
	fetch := opts.Limit * 2

	var (
		vectorHits, keywordHits []ScoredDocument
		vectorErr, keywordErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if r.embedder == nil {
			vectorErr = errNoEmbedder
			return nil
		}
		vec, err := r.embedder.Embed(gctx, query)
		if err != nil {
			vectorErr = fmt.Errorf("embed query: %w", err)
			return nil
		}
		vectorHits, vectorErr = r.store.VectorSearch(gctx, partition, vec.Values, opts.Threshold, fetch)
		return nil
	})
	g.Go(func() error {
		keywordHits, keywordErr = r.store.KeywordSearch(gctx, partition, query, fetch)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && !errors.Is(vectorErr, errNoEmbedder) {
		r.logger.Warn("vector search failed, using keyword results only",
			zap.String("partition", partition), zap.Error(vectorErr))
	}
	if keywordErr != nil {
		r.logger.Warn("keyword search failed, using vector results only",
			zap.String("partition", partition), zap.Error(keywordErr))
	}
	if vectorErr != nil && keywordErr != nil {
		if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		r.logger.Error("both retrieval paths failed", zap.String("partition", partition))
		return nil, nil
	}

	return Merge(vectorHits, keywordHits, opts.VectorWeight, opts.KeywordWeight, opts.Limit), nil
}

// Merge 按文档 ID 合并两侧命中，combined = v*vw + k*kw，降序排序后截断
func Merge(vectorHits, keywordHits []ScoredDocument, vectorWeight, keywordWeight float64, limit int) []RetrievalResult {
	byID := make(map[string]*RetrievalResult, len(vectorHits)+len(keywordHits))
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	get := func(doc Document) *RetrievalResult {
		if res, ok := byID[doc.ID]; ok {
			return res
		}
		res := &RetrievalResult{
			ID:          doc.ID,
			ChunkText:   doc.Content,
			SourceLabel: sourceLabel(doc),
			Metadata:    doc.Metadata,
		}
		byID[doc.ID] = res
		order = append(order, doc.ID)
		return res
	}

	for _, hit := range vectorHits {
		get(hit.Document).VectorScore = hit.Score
	}
	for _, hit := range keywordHits {
		get(hit.Document).KeywordScore = hit.Score
	}

	results := make([]RetrievalResult, 0, len(order))
	for _, id := range order {
		res := byID[id]
		res.CombinedScore = res.VectorScore*vectorWeight + res.KeywordScore*keywordWeight
		results = append(results, *res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func sourceLabel(doc Document) string {
	for _, key := range []string{"source", "title"} {
		if v, ok := doc.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return doc.ID
}

// FormatCitation 渲染引用，如 "[1] docs/setup.md (relevance: 87%)"
func FormatCitation(index int, res RetrievalResult) string {
	return fmt.Sprintf("[%d] %s (relevance: %d%%)", index, res.SourceLabel, relevancePercent(res.CombinedScore))
}

func relevancePercent(score float64) int {
	return int(math.Round(math.Max(0, math.Min(score, 1)) * 100))
}

// AugmentContext 检索并格式化上下文块。
// 结果按 metadata["section"] 归入 examples / best_practices / documentation，
// 调用方应在注入提示词前用 tokenizer.AllocateSections 截断 Sections。
func (r *HybridRetriever) AugmentContext(ctx context.Context, query string) (*AugmentedContext, error) {
	results, err := r.HybridSearch(ctx, query, SearchOptions{})
	if err != nil {
		return nil, err
	}
	return BuildContext(results), nil
}

// BuildContext 将检索结果格式化为带编号的上下文与引用，编号从 1 开始
func BuildContext(results []RetrievalResult) *AugmentedContext {
	ac := &AugmentedContext{Results: results}
	if len(results) == 0 {
		return ac
	}

	var examples, practices, docs []string
	ac.Citations = make([]string, 0, len(results))
	for i, res := range results {
		ac.Citations = append(ac.Citations, FormatCitation(i+1, res))
		chunk := fmt.Sprintf("[%d] %s", i+1, strings.TrimSpace(res.ChunkText))
		switch section, _ := res.Metadata["section"].(string); section {
		case "example", "examples":
			examples = append(examples, chunk)
		case "best_practice", "best_practices":
			practices = append(practices, chunk)
		default:
			docs = append(docs, chunk)
		}
	}

	ac.Sections = tokenizer.Sections{
		Examples:      strings.Join(examples, "\n\n"),
		BestPractices: strings.Join(practices, "\n\n"),
		Documentation: strings.Join(docs, "\n\n"),
	}
	ac.Context = ac.Sections.Render()
	ac.EstimatedTokens = tokenizer.EstimateTokens(ac.Context)
	return ac
}

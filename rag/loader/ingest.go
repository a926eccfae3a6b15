package loader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/inferflow/rag"
)

// DefaultPartition 根目录文件所属分区
const DefaultPartition = "default"

// Sink 接收文档的知识库，由 *rag.MemoryKnowledgeStore 实现
type Sink interface {
	Add(partition string, docs ...rag.Document) error
}

// IngestStats 导入统计
type IngestStats struct {
	Files      int            `json:"files"`
	Documents  int            `json:"documents"`
	Skipped    int            `json:"skipped"`
	Partitions map[string]int `json:"partitions"`
}

// Ingest 遍历 root，加载所有支持的文件并写入 sink。
// embedder 不为空时为每个文档生成向量；单个文件失败只记录日志并跳过。
func Ingest(ctx context.Context, root string, sink Sink, embedder rag.QueryEmbedder, logger *zap.Logger) (IngestStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "knowledge_loader"))

	stats := IngestStats{Partitions: make(map[string]int)}
	registry := NewRegistry()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !registry.Supports(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		partition := DefaultPartition
		if first, _, nested := strings.Cut(rel, "/"); nested {
			partition = first
		}

		docs, err := registry.Load(ctx, path, rel)
		if err != nil {
			stats.Skipped++
			logger.Warn("skip knowledge file", zap.String("path", rel), zap.Error(err))
			return nil
		}
		if len(docs) == 0 {
			return nil
		}

		if embedder != nil {
			for i := range docs {
				vec, err := embedder.Embed(ctx, docs[i].Content)
				if err != nil {
					logger.Debug("embed document failed", zap.String("id", docs[i].ID), zap.Error(err))
					continue
				}
				docs[i].Embedding = vec.Values
			}
		}

		if err := sink.Add(partition, docs...); err != nil {
			return fmt.Errorf("add %s: %w", rel, err)
		}
		stats.Files++
		stats.Documents += len(docs)
		stats.Partitions[partition] += len(docs)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("ingest %s: %w", root, err)
	}

	logger.Info("knowledge ingested",
		zap.Int("files", stats.Files),
		zap.Int("documents", stats.Documents),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

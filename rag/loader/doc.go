// Package loader 将本地知识文件读入 rag 知识库。
//
// 支持的格式:
//   - 纯文本 (.txt)
//   - Markdown (.md)，按标题切分，标题决定分区段落类别
//   - JSON / JSONL (.json, .jsonl)，每条记录一个文档
//
// Ingest 遍历知识目录：一级子目录名即分区名，根目录下的文件归入 default 分区。
//
//	store := rag.NewMemoryKnowledgeStore()
//	stats, err := loader.Ingest(ctx, "./knowledge", store, embedder, logger)
package loader

// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
# 概述

Package rag 提供混合检索（向量 + 关键词）与上下文增强。

HybridRetriever 并发执行向量检索与关键词检索，按文档 ID 合并，
combined = vector*vw + keyword*kw（只出现在一侧的文档只贡献该项），
降序排序后截断。未指定分区时自动选择文档数最多的分区。

# 核心接口/类型

  - KnowledgeStore：知识库接口（VectorSearch / KeywordSearch / Partitions）
  - MemoryKnowledgeStore：进程内实现，余弦相似度 + BM25（归一化到 [0,1]）
  - QdrantKnowledgeStore：基于 Qdrant REST API 的实现，集合即分区
  - HybridRetriever：混合检索与 AugmentContext

# 降级

任一侧检索失败时只使用另一侧结果；两侧都失败返回空结果并记录日志。
*/
package rag

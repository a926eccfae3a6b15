// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供路由管线的三层缓存：响应缓存、语义缓存与提示词缓存。

# 概述

缓存只是性能层，进程重启后为空，丢失不影响正确性。
每个缓存实例自带互斥锁，"检查容量 → 淘汰最旧 → 插入" 在同一把锁内完成。

# 核心类型

  - ResponseCache：按归一化查询存储响应，支持精确命中与 Jaccard 模糊命中，
    容量由等级的 ResponseCacheLimit 决定，溢出时淘汰 CreatedAt 最早的一条。
  - SemanticCache：在 ResponseCache 之上按嵌入向量余弦相似度匹配，
    先做低阈值的模糊预检，未命中再生成向量；向量生成失败等同未命中。
  - PromptCache：缓存系统提示词原文与压缩版本，free 等级拿到压缩版本。

# 使用方式

	responses := cache.NewResponseCache(limits.ResponseCacheLimit, logger)
	semantic := cache.NewSemanticCache(responses, embedder, cache.WithSemanticLogger(logger))
	if m, ok := semantic.FindSimilar(ctx, query, 0.85); ok {
		return m.Payload
	}
*/
package cache

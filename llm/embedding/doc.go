// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 embedding 提供文本向量化接口、OpenAI 兼容实现，以及在远端服务
不可用时使用的确定性哈希向量。

# 核心类型

  - Provider：统一嵌入接口。
  - OpenAIProvider：OpenAI 兼容的 /v1/embeddings 实现。
  - HashProvider：FNV-1a 哈希派生的伪向量，经 L2 归一化，召回能力较弱。
  - Embedder：组合以上两者，带超时与并发去重；每个结果通过 Source
    标明来源（client / server / hash），调用方据此区分向量质量。

# 使用方式

	primary := embedding.NewOpenAIProvider(embedding.OpenAIConfig{APIKey: "sk-...", Dimensions: 384})
	emb := embedding.NewEmbedder(primary, embedding.WithTimeout(3*time.Second))

	vec, err := emb.Embed(ctx, "如何创建登录表单")
	// vec.Source == embedding.SourceServer，远端失败时为 SourceHash
*/
package embedding

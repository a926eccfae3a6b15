// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 router 根据历史反馈为 agent 类型选择模型。

# 概述

ModelSelector 从 feedback.Store 读取按模型聚合的统计，按优先级
（speed / quality / cost / balanced）打分并取最高分模型；
没有历史样本或存储不可用时返回按 agent 类型预置的静态推荐。
选择过程从不返回错误。

置信度只取决于样本量：0 个样本为 0，之后从 0.3 起线性增长，
100 个样本及以上封顶 0.95。

# 使用方式

	sel := router.NewModelSelector(feedbackStore, router.WithTierResolver(gate))
	rec := sel.SelectModel(ctx, "codegen", router.PriorityBalanced, userID)
	chain := router.FallbackChain(rec, t, 3)
*/
package router

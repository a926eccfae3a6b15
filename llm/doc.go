// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供大语言模型接入层的公共抽象：Provider 接口、
请求与响应模型，以及回退链尝试工具。

# Provider 抽象

核心接口是 [Provider]。管线只依赖 Completion，具体的 HTTP
实现位于 llm/providers/openaicompat。

# 回退链

[Attempt] 按顺序在模型链上调用同一个函数，直到某个模型成功或
达到尝试上限。每一次尝试都会追加到不可变的 [AttemptRecord] 日志中，
全部失败时返回 [AttemptError]，其中带有完整的已尝试模型列表。

# 相关子包

- llm/tier：订阅等级、模型白名单与预算检查。
- llm/router：基于历史反馈的模型选择。
- llm/feedback：执行结果持久化与聚合。
- llm/cache：响应缓存、语义缓存与提示词缓存。
- llm/prefetch：后续查询预测与缓存预热。
- llm/tokenizer：Token 估算与预算截断。
- llm/embedding：文本向量化与哈希回退。
- llm/budget：每日用量计数。
*/
package llm

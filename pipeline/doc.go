// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package pipeline 将等级、缓存、检索、模型选择与预取串成一次路由。

Route 的处理顺序：

 1. 解析用户等级，按预估成本检查个人预算与当日用量
 2. 依次查询精确缓存、模糊缓存与语义缓存
 3. 未命中时检索知识库并按 Token 预算截断上下文
 4. 选择模型并沿回退链调用，最多三次
 5. 写回缓存、累加用量，异步写反馈并触发预取

缓存按用户隔离，容量跟随等级配额；等级变化时通过 SetUserTier 缩容。
*/
package pipeline

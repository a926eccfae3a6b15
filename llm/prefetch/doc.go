/*
包 prefetch 预测用户可能的后续查询，并在响应缓存中插入
pending 占位条目，供后续请求命中后再惰性生成。

预测分两级：先查关键词模板表，未命中时调用一次 LLM，请求
恰好 3 条同语言的简短后续问题（JSON 数组）。解析失败返回空。
占位数量受等级配额约束：free 0、pro 1、enterprise 3，
并且要求 tier.Limits.PrefetchEnabled 为真。

预取完全异步，失败只记日志，不重试。
*/
package prefetch

// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package providers 提供 LLM Provider 共用的 HTTP 错误映射与 OpenAI 兼容线格式。
// 具体实现位于 openaicompat 子包。
package providers

// Package api 定义 InferFlow HTTP API 的请求与响应结构。
//
// # API 概览
//
// InferFlow 对外提供以下端点：
//   - POST /api/v1/route: 按用户等级路由一次查询（缓存、检索、模型回退）
//   - POST /api/v1/feedback: 追加一条用户评价
//   - GET  /api/v1/models/recommend: 查询某 agent 类型的推荐模型与回退链
//   - PUT  /api/v1/users/{id}/tier: 变更用户等级
//   - /health、/healthz、/ready、/version 与独立端口上的 /metrics
//
// # 认证
//
// 启用 JWT 时，请求需携带：
//
//	Authorization: Bearer <token>
//
// token 中的 user_id 声明优先于请求体中的 user_id。
package api

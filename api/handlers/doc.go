// Copyright (c) InferFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 InferFlow HTTP API 的请求处理器实现。

# 核心类型

  - RoutingHandler: 路由、反馈、模型推荐与用户等级接口
  - HealthHandler: 服务健康检查（/health, /healthz, /ready, /version）
  - Response / ErrorInfo: 统一 JSON 响应结构
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码

# 错误映射

WriteError 接受任意 error：*types.Error 按错误码映射 HTTP 状态码，
上下文超时映射为 504，其余错误统一为 500 且不回显内部原因。
*/
package handlers

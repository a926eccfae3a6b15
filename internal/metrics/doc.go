// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的路由链路指标采集。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离，
同一进程内多次创建时需使用不同的 namespace。

# 指标分组

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 路由：按命中层（none/exact/fuzzy/semantic）与等级统计请求数和耗时，
    以及预算告警次数。
  - 模型调用：每次尝试的结果、回退深度、Token 用量与成本单位。
  - 检索与预取：检索耗时与结果数、预取占位数。
  - 缓存与后台任务：各缓存当前条目数、后台任务完成情况。
  - 数据库：活跃/空闲连接数与查询耗时。
*/
package metrics

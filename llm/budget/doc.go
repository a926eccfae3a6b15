// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 budget 按 (用户, 代理类别, 日期) 维度累计每日用量，并对照
订阅等级的 DailyBudgetUnits 做预算检查与阈值告警。

# 核心接口

  - UsageCounter：用量计数抽象，Add 原子累加并返回当日总量，Get 读取当日总量。
  - RedisUsageCounter：基于 internal/cache.Manager 的 INCRBYFLOAT，多实例共享。
  - GormUsageCounter：写入 daily_usage 表，适合无 Redis 的单机部署。
  - MemoryUsageCounter：进程内计数，用于测试与降级。
  - Tracker：组合计数器与告警，提供 Check 与 Record。

# 失败语义

计数器出错时 Check 放行（fail open）并记录 Warn 日志，用量统计
永远不会阻断一次正常的路由请求。

# 使用方式

	tracker := budget.NewTracker(budget.NewMemoryUsageCounter(), logger)
	decision := tracker.Check(ctx, userID, budget.Category(agentType), 1.5, limits)
	if !decision.Allowed {
	    // 软策略下只附加警告
	}
	tracker.Record(ctx, userID, budget.Category(agentType), 1.5, limits)
*/
package budget

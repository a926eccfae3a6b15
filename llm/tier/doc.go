// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tier 负责订阅等级的解析、模型准入与预算检查。

# 概述

等级只有 free、pro、enterprise 三档。任何无法确认的身份
（空 ID、匿名 ID、过短 ID、存储故障）一律解析为 free，
权限上失败关闭，可用性上失败开放。

# 核心类型

  - Tier：等级枚举，未知值按 free 处理。
  - Limits：单个等级的配额（每日预算、缓存容量、预取开关等）。
  - LimitsSource：配额来源，ConfigLimits 支持热更新，DefaultLimits 为内置兜底。
  - Gate：等级解析、模型降级与预算检查的入口。
  - UserStore / GormUserStore：用户等级与个人预算上限的持久化。

# 使用方式

	gate := tier.NewGate(tier.NewGormUserStore(db), tier.NewConfigLimits(cfg.Tiers), logger)
	t := gate.ResolveTier(ctx, userID)
	model := gate.EnforceTierModel("gpt-4o", t)
*/
package tier

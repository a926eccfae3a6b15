// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责按配置打开 GORM 连接并管理连接池。

# 概述

Open 根据 config.DatabaseConfig 选择方言：postgres、mysql 与纯 Go 的
sqlite（glebarez/sqlite，无需 cgo）。PoolManager 在此之上统一设置连接池
参数，后台定时探活，并通过 StatsHook 把连接数上报给指标采集器。

用户等级、反馈记录与每日用量三张表都通过这里打开的 *gorm.DB 访问，
表结构由 internal/migration 维护。
*/
package database

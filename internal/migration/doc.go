// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 维护 user_profiles、feedback_records 与 daily_usage 三张表的
版本化 Schema，基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 文件通过 embed.FS 内嵌在二进制中，由 iofs 源驱动读取。
SQLite 使用纯 Go 的 modernc.org/sqlite 驱动，无需 cgo。

  - Migrator / DefaultMigrator：Up、Down、Goto、Force、Version、Status、Info。
  - CLI：为 `inferflow migrate` 子命令提供格式化输出。
  - NewMigratorFromDatabaseConfig：由应用配置创建迁移器。
*/
package migration

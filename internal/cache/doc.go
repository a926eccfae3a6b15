// 版权所有 2024 InferFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，为每日用量计数等跨进程共享的状态
提供读写、原子浮点累加、健康检查与统计。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/IncrByFloat/Ping，
    后台定时 Ping 并在异常时通过 zap 告警，Close 时停止检查并释放连接。
  - Config：地址、密码、连接池、默认 TTL 与健康检查间隔。
  - Stats：由 INFO 输出解析出的命中、未命中与键数量。

# 错误语义

键不存在时 Get 返回 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache

// Copyright 2026 InferFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 InferFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup
  - 数据库辅助: NewTestDB 基于纯 Go 的 sqlite 内存库创建 gorm 连接并自动迁移
  - 异步断言: AssertEventuallyTrue，超时轮询等待条件满足

# 子包

  - testutil/mocks: MockProvider（LLM Provider），支持按模型设定响应、
    错误注入与调用记录

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
*/
package testutil

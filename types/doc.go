// Copyright (c) InferFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 InferFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、rag、pipeline、
api 等上层模块提供统一的错误码，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - HTTPStatusOf：错误码到 HTTP 状态码的映射，api 层据此写响应
*/
package types

// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 LexFlow 服务的全局共享类型定义。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，为 resilience、router、
llm、rag、law、api 等上层模块提供统一的类型契约。跨包共享的错误码和
结构化错误均定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记

# 主要能力

  - 错误工具链：IsRetryable / GetErrorCode / IsNotFound（基于 errors.As 遍历错误链）
  - 链式构造：NewError(...).WithCause(...).WithHTTPStatus(...).WithRetryable(...)
  - Context 辅助：WithTraceID / WithTenantID / WithUserID 及对应提取函数，
    供鉴权中间件向下游传递请求身份

错误码分为两组：传输与上游错误（CONNECTION、TIMEOUT、RATE_LIMIT 等，
供弹性中间件判定是否可重试）与编排错误（MALFORMED_RESPONSE、NOT_FOUND
等，永不重试）。
*/
package types

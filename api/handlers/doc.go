// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 LexFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 LexFlow 所有 HTTP 端点的请求处理逻辑，
包括法律问答、文档管理与异步摄取、判例检索、熔断器监控、
健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - QueryHandler     — 法律问答处理器，支持同步与 SSE 流式响应
  - DocumentsHandler — 文档列表、上传（异步摄取任务）、检索与删除
  - LawHandler       — 判例检索与判决详情/全文
  - CircuitsHandler  — 熔断器快照与复位
  - HealthHandler    — 服务健康检查（/health, /healthz, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（Redis、Qdrant、生成后端等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteAccepted / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - SSE 流式输出：QueryHandler.HandleStream 支持 text/event-stream，
    帧格式 data: {"delta": ...}，终止符 data: [DONE]
  - 异步文档摄取：uuid 任务 ID、queued/running/done/failed 状态机，
    进程内任务表 + Redis 镜像
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers

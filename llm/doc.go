// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义文本生成后端的统一接口与数据类型。

# 概述

llm 是生成后端的边界层：路由编排器（router 包）只依赖本包的
Provider 接口，具体 HTTP 实现位于 llm/providers 子包。所有
OpenAI 兼容网关（OpenAI、DeepSeek、Groq、Ollama 等）共用
providers/openaicompat 一个实现，通过 BaseURL/APIKey/Model 参数化。

# 核心类型

  - Provider — Completion / Stream / Name / HealthCheck
  - ChatRequest / ChatResponse / StreamChunk — 请求与响应载体
  - ChatUsage — token 用量；上游缺失时用 tiktoken 估算

# 错误语义

实现将 HTTP 状态映射为 *types.Error：429、5xx 与连接失败标记
Retryable 供弹性中间件重试；4xx 客户端错误不重试。
*/
package llm

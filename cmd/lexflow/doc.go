// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 LexFlow 服务端程序入口。

# 概述

cmd/lexflow 是 LexFlow 的可执行入口，提供法律问答 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、结构化日志
（zap）、Prometheus 指标采集与 OpenTelemetry 链路追踪。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 组件装配：Redis 缓存 → 熔断器注册表 → 生成后端 → 向量存储 →
    法律桥接 → 分类器 → 查询编排器 → Handlers
  - 中间件链：Recovery、RequestID（uuid）、SecurityHeaders、
    RequestLogger、MetricsMiddleware、OTelTracing、CORS、
    RateLimiter（基于 IP）、JWTAuth（Bearer，HS256/RS256）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭 Redis →
    刷出遥测数据 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main

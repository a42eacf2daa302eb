// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package resilience 提供围绕外呼调用的可组合弹性中间件。

# 概述

每一次出站调用（文本生成、向量检索、法律检索、普通 HTTP）都经过同一套
保护栈，组合顺序固定：

	超时 → 熔断器 → 重试 → 原始操作

超时可以中止进行中的重试循环；打开的熔断器在任何重试/超时记账之前
直接拒绝。三种调用形态共享同一个内部执行原语：

  - (*Middleware).Do      — 阻塞调用
  - Call[T]               — 单结果调用
  - Stream[T]             — 流式调用（不重试；按整条流的结果推进熔断器）

# 熔断器

按资源名注册（Registry 注入式，而非进程级全局量）：Closed 连续失败
fail_max 次转 Open；Open 在 reset_timeout 后放行单个探测（HalfOpen）；
探测成功回 Closed 并清零计数，失败立即重新 Open。

# 预设

四类资源各有默认预算（见 PresetFor）：generation 120s / 2 次尝试，
retrieval 60s / 3 次，legal-search 45s / 3 次，generic-http 30s / 3 次。
熔断默认 fail_max=5、reset_timeout=60s；退避 1s 起步、上限 10s、倍率 2。

# 错误分类

瞬态故障（连接失败、上游超时、限流、503）才会重试，见 IsTransient；
解析失败与 NOT_FOUND 永不重试。耗尽后返回 *ExhaustedError，
Unwrap 保留最后一次原始错误。
*/
package resilience

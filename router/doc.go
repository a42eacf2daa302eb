// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package router 实现查询编排核心：分类、上下文聚合与回答生成。

# 流程

一次查询按固定顺序经过：

 1. 分类 — LLM 主路径（温度 0，强制 JSON 输出）失败时落到纯函数
    关键词回退；分类永不使请求失败。结果按查询指纹缓存并经
    singleflight 去重。
 2. 意图短路 — 全文直取（案号 + 全文措辞）、逐文档扫描（顺序、
    早退）、删除（全部 / 模糊单个）直接返回，跳过聚合与生成。
 3. 上下文聚合 — 三路并发取数（文档摘要 / 检索上下文 / 法律上下文），
    单路失败只记入 Errors，不影响其余分支；合并顺序固定为
    摘要、检索、法律。
 4. 回答缓存 — 按 (query, provider, model, use_retrieval, use_legal,
    上下文指纹) 缓存最终回答，TTL 短于片段缓存。
 5. 生成 — 唯一对用户可见的失败点：生成失败返回显式错误文案并记入
    元数据，绝不返回无声的空回答。

所有外呼均套 resilience 中间件（超时 → 熔断 → 重试），按资源预设
分别记账：generation / retrieval / legal-search。

# 预算

所有字符预算集中在 budgets.go：检索上下文 5000、判决全文 95000、
扫描单文档 8000、文档预览 500，超限截断并追加固定标记。
*/
package router

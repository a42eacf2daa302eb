// Copyright (c) LexFlow Authors.
// Licensed under the MIT License.

/*
Package rag 实现文档检索后端：分块、向量化、存储与上下文组装。

# 概述

rag 是检索侧的边界层。router 包通过 Service 消费检索能力，
Service 之下是可替换的 Store 实现：

  - QdrantStore — 生产用，基于 Qdrant REST API（search/scroll/upsert/delete）
  - MemoryStore — 测试与免存储部署用，RWMutex + 余弦相似度

# 主要能力

  - 分块：rune 安全的固定大小分块（默认 1000 字符，重叠 200）
  - 向量化：Embedder 接口 + OpenAI 兼容 /v1/embeddings 客户端
  - 上下文组装：检索命中拼接为 [Документ N] 块
  - 缓存：检索结果与上下文片段按 (query, top_k) 指纹缓存（TTL 1h），
    文档增删触发 rag: 前缀整体失效
*/
package rag

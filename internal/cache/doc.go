// 版权所有 2025 LexFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
JSON 序列化与前缀失效。

# 概述

本包封装 go-redis 客户端，为编排层提供统一的缓存读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
keys.go 定义全部键命名空间与指纹函数，保证缓存键长度有界且
可按前缀批量失效。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete/DeleteByPrefix/Exists/Expire 等基础操作，
    以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 键值读写：支持字符串与 JSON 两种模式的缓存存取。
  - 前缀失效：DeleteByPrefix 基于 SCAN 游标分批删除，
    文档增删后整体失效 rag: 前缀下的检索缓存。
  - 指纹键：Fingerprint 对逻辑输入做 SHA-256 哈希，
    分类、检索、法律上下文与最终回答各占独立命名空间。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache

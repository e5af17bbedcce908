// Package biz 提供图书问答服务的业务逻辑层。
//
// 该包由以下组件组成：
//   - IndexManager: 每本书一个向量索引，负责构建、缓存、检索与驱逐
//   - AnswerCache: 基于 Redis 的语义问答结果缓存（可选）
//   - Service: 组装提示词并通过生成网关获取回答
package biz

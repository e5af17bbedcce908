// Package store 提供图书检索的数据层。
//
// FlatIndex 是基于内积的精确向量索引，行向量经过 L2 归一化后内积即余弦相似度。
// CacheStore 将每本书的索引、分块与向量矩阵持久化到本地目录，
// 以 md5(book_id) 为文件名前缀。
package store

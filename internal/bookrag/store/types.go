package store

import (
	"fmt"
	"math"
)

// Chunk 图书文本块，创建后不再修改。按 ChunkIndex 排序即为书中顺序。
type Chunk struct {
	Text       string         `json:"text"`
	ChunkIndex int            `json:"chunk_index"`
	PageNumber *int           `json:"page_number,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// HasPage 报告块是否带有页码。
func (c *Chunk) HasPage() bool {
	return c.PageNumber != nil
}

// RetrievalResult 一条检索结果。
type RetrievalResult struct {
	Chunk           Chunk   `json:"chunk"`
	SimilarityScore float32 `json:"similarity_score"`
}

// BookIndex 一本书的向量索引与其分块，Index 的第 i 行对应 Chunks[i]。
type BookIndex struct {
	BookID string
	Index  *FlatIndex
	Chunks []Chunk
}

// NewBookIndex 由原始向量构建索引，向量会被 L2 归一化。
func NewBookIndex(bookID string, chunks []Chunk, vectors [][]float32) (*BookIndex, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count %d does not match chunk count %d", len(vectors), len(chunks))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors for book %q", bookID)
	}

	idx := NewFlatIndex(len(vectors[0]))
	for i, v := range vectors {
		row := make([]float32, len(v))
		copy(row, v)
		NormalizeL2(row)
		if err := idx.Add(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}

	return &BookIndex{BookID: bookID, Index: idx, Chunks: chunks}, nil
}

// Len 返回分块数量。
func (b *BookIndex) Len() int {
	return len(b.Chunks)
}

// NormalizeL2 原地归一化为单位长度，零向量保持不变。
func NormalizeL2(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

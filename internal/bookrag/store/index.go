package store

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	indexMagic   = "BRIX"
	indexVersion = uint32(1)

	// magic + version + dim + rows
	indexHeaderSize = 4 + 4 + 4 + 8
)

// ErrDimensionMismatch 向量维度与索引不一致。
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit 一条近邻结果。
type Hit struct {
	Row   int
	Score float32
}

// FlatIndex 精确内积索引，行数据连续存放。
type FlatIndex struct {
	dim  int
	data []float32
}

// NewFlatIndex 创建 dim 维的空索引。
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dim 返回向量维度。
func (x *FlatIndex) Dim() int {
	return x.dim
}

// Len 返回行数。
func (x *FlatIndex) Len() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Row 返回第 i 行，结果与索引共享内存。
func (x *FlatIndex) Row(i int) []float32 {
	return x.data[i*x.dim : (i+1)*x.dim]
}

// Data 返回全部行数据（行优先）。
func (x *FlatIndex) Data() []float32 {
	return x.data
}

// Add 追加向量。
func (x *FlatIndex) Add(vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != x.dim || x.dim == 0 {
			return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, x.dim, len(v))
		}
	}
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	return nil
}

// Search 返回与 q 内积最大的 k 行，按分数降序，同分时行号小者在前。
func (x *FlatIndex) Search(q []float32, k int) ([]Hit, error) {
	if len(q) != x.dim {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, x.dim, len(q))
	}

	n := x.Len()
	k = min(k, n)
	if k <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Row: i, Score: dot(x.Row(i), q)}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return hits[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MarshalBinary 序列化格式：magic "BRIX" | version u32 | dim u32 | rows u64 | rows*dim float32，均为小端序。
func (x *FlatIndex) MarshalBinary() ([]byte, error) {
	buf := make([]byte, indexHeaderSize+4*len(x.data))
	copy(buf, indexMagic)
	binary.LittleEndian.PutUint32(buf[4:], indexVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(x.dim))
	binary.LittleEndian.PutUint64(buf[12:], uint64(x.Len()))
	putFloats(buf[indexHeaderSize:], x.data)
	return buf, nil
}

// UnmarshalBinary 解析 MarshalBinary 的输出。
func (x *FlatIndex) UnmarshalBinary(data []byte) error {
	if len(data) < indexHeaderSize {
		return fmt.Errorf("index too short: %d bytes", len(data))
	}
	if string(data[:4]) != indexMagic {
		return fmt.Errorf("bad index magic %q", data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != indexVersion {
		return fmt.Errorf("unsupported index version %d", v)
	}

	dim := int(binary.LittleEndian.Uint32(data[8:]))
	rows := binary.LittleEndian.Uint64(data[12:])
	if dim <= 0 {
		return fmt.Errorf("invalid index dimension %d", dim)
	}

	body := data[indexHeaderSize:]
	if uint64(len(body)) != rows*uint64(dim)*4 {
		return fmt.Errorf("index body is %d bytes, header declares %d rows of dim %d", len(body), rows, dim)
	}

	x.dim = dim
	x.data = getFloats(body)
	return nil
}

func putFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

func getFloats(src []byte) []float32 {
	out := make([]float32, len(src)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
	return out
}

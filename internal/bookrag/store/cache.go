package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/bookrag/pkg/utils/json"
)

var (
	// ErrCacheNotFound 缓存记录不完整或不存在。
	ErrCacheNotFound = errors.New("book cache not found")

	// ErrCacheMalformed 缓存文件无法解析或相互矛盾。
	ErrCacheMalformed = errors.New("book cache malformed")
)

const (
	indexSuffix      = ".index"
	chunksSuffix     = "_chunks.json"
	embeddingsSuffix = "_embeddings.bin"
)

// BookHash 返回 book_id 的 md5 十六进制串，作为缓存文件名前缀。
func BookHash(bookID string) string {
	sum := md5.Sum([]byte(bookID))
	return hex.EncodeToString(sum[:])
}

// CachePaths 一条缓存记录的三个文件路径。
type CachePaths struct {
	Index      string `json:"index"`
	Chunks     string `json:"chunks"`
	Embeddings string `json:"embeddings"`
}

func (p CachePaths) all() []string {
	return []string{p.Index, p.Chunks, p.Embeddings}
}

// CacheStats 缓存目录统计。
type CacheStats struct {
	Dir     string   `json:"dir"`
	Records int      `json:"records"`
	Bytes   int64    `json:"bytes"`
	Hashes  []string `json:"hashes"`
}

// CacheStore 本地文件缓存。
type CacheStore struct {
	dir string
}

// NewCacheStore 创建缓存目录（如不存在）。
func NewCacheStore(dir string) (*CacheStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &CacheStore{dir: dir}, nil
}

// Dir 返回缓存根目录。
func (s *CacheStore) Dir() string {
	return s.dir
}

// Paths 返回 bookID 对应的三个文件路径。
func (s *CacheStore) Paths(bookID string) CachePaths {
	return s.pathsForHash(BookHash(bookID))
}

func (s *CacheStore) pathsForHash(hash string) CachePaths {
	return CachePaths{
		Index:      filepath.Join(s.dir, hash+indexSuffix),
		Chunks:     filepath.Join(s.dir, hash+chunksSuffix),
		Embeddings: filepath.Join(s.dir, hash+embeddingsSuffix),
	}
}

// Save 原子地写入一条缓存记录。
// 每个文件先写入同目录临时文件并 fsync，再按 向量、分块、索引 的顺序 rename；
// 索引文件最后落盘，它的存在标志着记录完整。
func (s *CacheStore) Save(ctx context.Context, bi *BookIndex) error {
	if bi == nil || bi.Index == nil {
		return errors.New("nil book index")
	}

	indexData, err := bi.Index.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	chunksData, err := json.MarshalIndent(bi.Chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	embData := make([]byte, 4*len(bi.Index.Data()))
	putFloats(embData, bi.Index.Data())

	paths := s.Paths(bi.BookID)
	hash := BookHash(bi.BookID)

	type pending struct {
		final string
		data  []byte
		tmp   string
	}
	files := []*pending{
		{final: paths.Embeddings, data: embData},
		{final: paths.Chunks, data: chunksData},
		{final: paths.Index, data: indexData},
	}

	cleanup := func() {
		for _, f := range files {
			if f.tmp != "" {
				_ = os.Remove(f.tmp)
			}
		}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		tmp, err := writeTemp(s.dir, hash, f.data)
		if err != nil {
			cleanup()
			return err
		}
		f.tmp = tmp
	}

	// 先删除旧记录（索引优先），读者不会看到新旧混合的记录
	for _, p := range []string{paths.Index, paths.Chunks, paths.Embeddings} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			cleanup()
			return fmt.Errorf("remove stale %s: %w", filepath.Base(p), err)
		}
	}

	for _, f := range files {
		if err := os.Rename(f.tmp, f.final); err != nil {
			cleanup()
			return fmt.Errorf("rename %s: %w", filepath.Base(f.final), err)
		}
		f.tmp = ""
	}

	syncDir(s.dir)
	return nil
}

func writeTemp(dir, hash string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, hash+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write %s: %w", filepath.Base(name), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", filepath.Base(name), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close %s: %w", filepath.Base(name), err)
	}
	return name, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load 读取并校验一条缓存记录。
// 返回 ErrCacheNotFound、ErrCacheMalformed 或包装后的 I/O 错误，调用方均按未命中处理。
func (s *CacheStore) Load(ctx context.Context, bookID string) (*BookIndex, error) {
	paths := s.Paths(bookID)

	for _, p := range paths.all() {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, filepath.Base(p))
			}
			return nil, fmt.Errorf("stat %s: %w", filepath.Base(p), err)
		}
	}

	indexData, err := readFile(paths.Index)
	if err != nil {
		return nil, err
	}
	idx := &FlatIndex{}
	if err := idx.UnmarshalBinary(indexData); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheMalformed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunksData, err := readFile(paths.Chunks)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	if err := json.Unmarshal(chunksData, &chunks); err != nil {
		return nil, fmt.Errorf("%w: chunks: %v", ErrCacheMalformed, err)
	}
	if len(chunks) != idx.Len() {
		return nil, fmt.Errorf("%w: index has %d rows, chunks has %d", ErrCacheMalformed, idx.Len(), len(chunks))
	}

	embData, err := readFile(paths.Embeddings)
	if err != nil {
		return nil, err
	}
	if len(embData) != 4*len(idx.Data()) {
		return nil, fmt.Errorf("%w: embeddings are %d bytes, want %d", ErrCacheMalformed, len(embData), 4*len(idx.Data()))
	}
	if !bytes.Equal(embData, indexData[indexHeaderSize:]) {
		return nil, fmt.Errorf("%w: embeddings do not match index", ErrCacheMalformed)
	}

	return &BookIndex{BookID: bookID, Index: idx, Chunks: chunks}, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// Remove 删除一条缓存记录，文件不存在不视为错误。
func (s *CacheStore) Remove(_ context.Context, bookID string) error {
	var errs []error
	for _, p := range s.Paths(bookID).all() {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List 返回所有完整记录的哈希。
func (s *CacheStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var hashes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, indexSuffix) {
			continue
		}
		hash := strings.TrimSuffix(name, indexSuffix)
		if s.complete(hash) {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

func (s *CacheStore) complete(hash string) bool {
	for _, p := range s.pathsForHash(hash).all() {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Stats 返回完整记录数量与占用字节数。
func (s *CacheStore) Stats() (CacheStats, error) {
	hashes, err := s.List()
	if err != nil {
		return CacheStats{}, err
	}

	stats := CacheStats{Dir: s.dir, Records: len(hashes), Hashes: hashes}
	for _, hash := range hashes {
		for _, p := range s.pathsForHash(hash).all() {
			if info, err := os.Stat(p); err == nil {
				stats.Bytes += info.Size()
			}
		}
	}
	if stats.Hashes == nil {
		stats.Hashes = []string{}
	}
	return stats, nil
}

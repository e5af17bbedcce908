// Package id 生成请求标识。
//
// ULID 为 26 个字符，按时间字典序可排序，同一毫秒内单调递增：
//
//	rid := id.NewULID() // e.g. "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	// Generate creates a new unique ID.
	Generate() string
}

// ULIDGenerator 并发安全的单调 ULID 生成器。
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// ULIDOption is a functional option for ULIDGenerator.
type ULIDOption func(*ulidConfig)

type ulidConfig struct {
	reader io.Reader
}

// WithULIDReader sets a custom random reader for ULID generation.
func WithULIDReader(r io.Reader) ULIDOption {
	return func(c *ulidConfig) {
		c.reader = r
	}
}

// NewULIDGenerator creates a new ULID generator.
func NewULIDGenerator(opts ...ULIDOption) *ULIDGenerator {
	cfg := &ulidConfig{reader: rand.Reader}
	for _, opt := range opts {
		opt(cfg)
	}
	return &ULIDGenerator{entropy: ulid.Monotonic(cfg.reader, 0)}
}

// Generate creates a new ULID string.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		// 同一毫秒内熵溢出时退回到非单调的随机 ULID
		return ulid.Make().String()
	}
	return id.String()
}

var (
	defaultULID *ULIDGenerator
	initOnce    sync.Once
)

// NewULID generates a new ULID string with the default generator.
func NewULID() string {
	initOnce.Do(func() {
		defaultULID = NewULIDGenerator()
	})
	return defaultULID.Generate()
}

// IsValidULID checks if a string is a valid ULID.
func IsValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// ULIDTime returns the timestamp embedded in a ULID.
func ULIDTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

package id

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	s := NewULID()

	assert.Len(t, s, 26)
	assert.True(t, IsValidULID(s))

	ts, err := ULIDTime(s)
	require.NoError(t, err)
	assert.True(t, ts.After(before))
}

func TestULIDGenerator_Monotonic(t *testing.T) {
	g := NewULIDGenerator(WithULIDReader(bytes.NewReader(bytes.Repeat([]byte{0x01}, 1<<16))))

	prev := g.Generate()
	for i := 0; i < 50; i++ {
		next := g.Generate()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestULIDGenerator_Concurrent(t *testing.T) {
	g := NewULIDGenerator()
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := g.Generate()
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestIsValidULID(t *testing.T) {
	assert.False(t, IsValidULID(""))
	assert.False(t, IsValidULID("not-a-ulid"))
	assert.False(t, IsValidULID("01ARZ3NDEKTSV4RRFFQ69G5FAU!"))
	_, err := ULIDTime("bad")
	assert.Error(t, err)
}

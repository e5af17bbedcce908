package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/bookrag/internal/pkg/textutil"
)

var aliceBob = []string{
	"Alice meets Bob in the garden.",
	"Bob gives Alice a letter.",
	"The letter reveals a secret passage.",
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"bob", "give", "alice"}, textutil.Keywords("What does Bob give Alice?"))
	assert.Empty(t, textutil.Keywords("What is it?"))
}

func TestRankChunks_AliceBob(t *testing.T) {
	ranked := textutil.RankChunks(textutil.Keywords("What does Bob give Alice?"), aliceBob)
	require.Len(t, ranked, 3)

	assert.Equal(t, 1, ranked[0].Index)
	assert.Equal(t, 0, ranked[1].Index)
	assert.Equal(t, 2, ranked[2].Index)

	// bob、alice 各 3+1，give 仅子串匹配 +1
	assert.InDelta(t, 9+float64(len(aliceBob[1]))/1000, ranked[0].Score, 1e-9)
	assert.InDelta(t, 8+float64(len(aliceBob[0]))/1000, ranked[1].Score, 1e-9)
}

func TestFindRelevantChunks_BookOrder(t *testing.T) {
	got := textutil.FindRelevantChunks("What does Bob give Alice?", aliceBob, 5)
	assert.Equal(t, aliceBob, got)
}

func TestFindRelevantChunks_Limit(t *testing.T) {
	chunks := []string{
		"Nothing here.",
		"The dragon slept.",
		"A dragon attacked the dragon keep.",
		"",
		"Weather report.",
	}
	got := textutil.FindRelevantChunks("Where is the dragon?", chunks, 1)
	// 候选为得分前 2 的块，按书中顺序取第一个
	assert.Equal(t, []string{"The dragon slept."}, got)
}

func TestFindRelevantChunks_NoKeywords(t *testing.T) {
	chunks := []string{"one", "two", "three"}
	assert.Equal(t, []string{"one", "two"}, textutil.FindRelevantChunks("Who is it?", chunks, 2))
	assert.Equal(t, chunks, textutil.FindRelevantChunks("Who?", chunks, 10))
}

func TestFindRelevantChunks_SkipsBlank(t *testing.T) {
	got := textutil.FindRelevantChunks("garden", []string{"   ", "", "garden path"}, 5)
	assert.Equal(t, []string{"garden path"}, got)
}

func TestFindRelevantChunks_ZeroMax(t *testing.T) {
	assert.Empty(t, textutil.FindRelevantChunks("garden", aliceBob, 0))
}

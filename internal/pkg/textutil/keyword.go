package textutil

import (
	"regexp"
	"slices"
	"strings"
)

var wordRe = regexp.MustCompile(`\b\w+\b`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "what": {},
	"where": {}, "when": {}, "why": {}, "how": {}, "who": {}, "which": {},
}

// ScoredChunk 关键词排序结果。
type ScoredChunk struct {
	Index int
	Text  string
	Score float64
}

// Keywords 提取问题中的关键词：小写、长度大于 2 且不是停用词。
func Keywords(question string) []string {
	words := wordRe.FindAllString(strings.ToLower(question), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// RankChunks 按关键词得分降序返回非空分块，同分保持原顺序。
// 每个关键词的整词匹配计 3 分，出现为子串再计 1 分；长度每 1000 字节加 1 分，最多 2 分。
func RankChunks(keywords []string, chunks []string) []ScoredChunk {
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}

		lower := strings.ToLower(chunk)
		var score float64
		for j, kw := range keywords {
			score += 3 * float64(len(patterns[j].FindAllStringIndex(lower, -1)))
			if strings.Contains(lower, kw) {
				score++
			}
		}
		score += min(float64(len(chunk))/1000, 2)

		scored = append(scored, ScoredChunk{Index: i, Text: chunk, Score: score})
	}

	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return scored
}

// FindRelevantChunks 关键词检索：取得分最高的 2*maxChunks 个候选，
// 丢弃得分为 0 的块，按书中顺序返回前 maxChunks 个。
// 问题中没有关键词时返回前 maxChunks 个分块。
func FindRelevantChunks(question string, chunks []string, maxChunks int) []string {
	if maxChunks <= 0 {
		return []string{}
	}

	keywords := Keywords(question)
	if len(keywords) == 0 {
		return slices.Clone(chunks[:min(maxChunks, len(chunks))])
	}

	ranked := RankChunks(keywords, chunks)
	candidates := ranked[:min(2*maxChunks, len(ranked))]

	selected := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Score > 0 {
			selected = append(selected, c)
		}
	}
	slices.SortFunc(selected, func(a, b ScoredChunk) int { return a.Index - b.Index })

	out := make([]string, 0, min(maxChunks, len(selected)))
	for _, c := range selected[:min(maxChunks, len(selected))] {
		out = append(out, c.Text)
	}
	return out
}

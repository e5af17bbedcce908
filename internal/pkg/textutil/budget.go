// Package textutil 提供上下文预算相关的文本处理：token 估算、清洗、截断与关键词排序。
package textutil

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxTokens TruncateToBudget 的默认预算。
const DefaultMaxTokens = 7000

var (
	whitespaceRe = regexp.MustCompile(`[\s\p{Zs}]+`)
	referenceRe  = regexp.MustCompile(`\[\d+\]`)
	chapterRe    = regexp.MustCompile(`\b(Chapter|CHAPTER)\s+\d+\b`)
	pageRe       = regexp.MustCompile(`\bPage\s+\d+\b`)
	ellipsisRe   = regexp.MustCompile(`\.{3,}`)
	dashRe       = regexp.MustCompile(`-{2,}`)
)

// EstimateTokens 粗略估算 token 数：每 4 字节计 1 个。
func EstimateTokens(text string) int {
	return len(text) / 4
}

// CleanText 去除 EPUB 常见噪声：多余空白、引用编号、章节与页码标记，
// 规整省略号与破折号，并丢弃不超过 10 个字符的句子片段。
func CleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")

	text = referenceRe.ReplaceAllString(text, "")
	text = chapterRe.ReplaceAllString(text, "")
	text = pageRe.ReplaceAllString(text, "")

	text = ellipsisRe.ReplaceAllString(text, "...")
	text = dashRe.ReplaceAllString(text, "--")

	sentences := strings.Split(text, ". ")
	kept := sentences[:0]
	for _, s := range sentences {
		if utf8.RuneCountInString(strings.TrimSpace(s)) > 10 {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ". ")
}

// TruncateToBudget 将分块清洗后拼接，并保证结果不超过 maxTokens。
//
// 全部内容放得下时直接返回；否则按顺序贪心累积。累积结果不足预算 30% 时
// 改为每隔一块取一块以扩大覆盖面，仍超预算则每三块取一块。最后仍超出时硬截断。
func TruncateToBudget(chunks []string, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	cleaned := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			cleaned = append(cleaned, CleanText(c))
		}
	}

	full := strings.Join(cleaned, "\n\n")
	if EstimateTokens(full) <= maxTokens {
		return full
	}

	var acc string
	for _, c := range cleaned {
		candidate := c
		if acc != "" {
			candidate = acc + "\n\n" + c
		}
		if EstimateTokens(candidate) > maxTokens {
			break
		}
		acc = candidate
	}

	if float64(EstimateTokens(acc)) < float64(maxTokens)*0.3 {
		acc = strings.Join(every(cleaned, 2), "\n\n")
		if EstimateTokens(acc) > maxTokens {
			acc = strings.Join(every(cleaned, 3), "\n\n")
		}
	}

	if EstimateTokens(acc) > maxTokens {
		acc = HardTruncate(acc, maxTokens)
	}
	return acc
}

// HardTruncate 截断到 maxTokens*4 字节以内，不拆分 UTF-8 字符。
// 若最后一个 ". " 位于后 20% 内，则在该句号处结束。
func HardTruncate(text string, maxTokens int) string {
	limit := maxTokens * 4
	if limit < 0 {
		limit = 0
	}
	if len(text) <= limit {
		return text
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	text = text[:cut]

	if last := strings.LastIndex(text, ". "); last >= 0 && float64(last) > float64(limit)*0.8 {
		text = text[:last+1]
	}
	return text
}

func every(items []string, step int) []string {
	out := make([]string, 0, (len(items)+step-1)/step)
	for i := 0; i < len(items); i += step {
		out = append(out, items[i])
	}
	return out
}

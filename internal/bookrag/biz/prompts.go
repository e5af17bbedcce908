package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/internal/pkg/textutil"
	"github.com/kart-io/bookrag/pkg/llm"
)

const (
	summarizeChunkPrompt = "You are a reading assistant for an EPUB reader. " +
		"Summarize the provided text section concisely. " +
		"Focus on key plot points, character development, and important events. " +
		"Keep the summary detailed enough to understand what happened, but concise. " +
		"Do NOT speculate about future events. " +
		"Return only plain text, without any special symbols, section numbers, headings, or formatting."

	continuationSuffix = " This section continues from previous parts of the book."

	summarizePrompt = "You are a reading assistant for an EPUB reader. " +
		"Summarize only the content provided. " +
		"Do NOT speculate about what happens next. " +
		"Only include content the author has revealed so far. " +
		"Avoid spoilers and speculation. " +
		"Focus on key plot points, character development, and important themes. " +
		"Return only plain text, without any special symbols, section numbers, headings, or formatting."

	askQuestionPrompt = "You are a helpful reading assistant for an EPUB reader. " +
		"Answer the user's question based ONLY on the provided book content. " +
		"If the answer is not in the provided context, say so clearly. " +
		"Do not make up information or speculate beyond what's provided. " +
		"Be concise but thorough in your response. " +
		"If referencing specific parts of the book, mention which context section it came from."

	semanticQAPrompt = "You are a helpful reading assistant for an EPUB reader. " +
		"CRITICAL: Answer the user's question based ONLY on the provided book content below. " +
		"DO NOT use any external knowledge about books, characters, or plots. " +
		"If information is not explicitly stated in the provided context, you MUST say 'This information is not available in the provided context.' " +
		"Never mention character names, plot details, or other information unless it appears verbatim in the context. " +
		"The content has been retrieved using semantic similarity search. " +
		"Be concise but thorough in your response. " +
		"Reference the similarity scores if helpful to indicate confidence in the retrieved content."
)

// PromptBundle 发送给生成网关的一组提示词。
type PromptBundle struct {
	SystemPrompt    string `json:"system_prompt"`
	UserContent     string `json:"user_content"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

func newBundle(system, user string) PromptBundle {
	return PromptBundle{
		SystemPrompt:    system,
		UserContent:     user,
		EstimatedTokens: textutil.EstimateTokens(system) + textutil.EstimateTokens(user),
	}
}

// Messages 转换为对话消息。
func (b PromptBundle) Messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: b.SystemPrompt},
		{Role: llm.RoleUser, Content: b.UserContent},
	}
}

// Exchange 一轮历史问答。
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SemanticContext 构建语义问答的用户内容，每个结果附带相似度。
func SemanticContext(title, question string, results []store.RetrievalResult) string {
	var parts []string
	if title != "" {
		parts = append(parts, "Book: "+title)
	}
	parts = append(parts,
		"Question: "+question,
		"\nIMPORTANT: Answer ONLY based on the content below. Do not use external knowledge.",
		"\nRelevant content from the book:",
	)
	for i, r := range results {
		parts = append(parts,
			fmt.Sprintf("\n--- Context %d (similarity: %.3f) ---", i+1, r.SimilarityScore),
			r.Chunk.Text,
		)
	}
	return strings.Join(parts, "\n")
}

// QAContext 构建关键词问答的用户内容，只保留最近三轮历史。
func QAContext(question string, chunks []string, title string, history []Exchange) string {
	var parts []string
	if title != "" {
		parts = append(parts, "Book: "+title)
	}

	if len(chunks) > 0 {
		parts = append(parts, "\nRelevant content from the book:")
		for i, c := range chunks {
			cleaned := textutil.CleanText(c)
			if strings.TrimSpace(cleaned) != "" {
				parts = append(parts, fmt.Sprintf("\n[Context %d]\n%s", i+1, cleaned))
			}
		}
	}

	if len(history) > 0 {
		parts = append(parts, "\nPrevious conversation:")
		for _, ex := range history[max(0, len(history)-3):] {
			if ex.Question == "" || ex.Answer == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("\nQ: %s\nA: %s", ex.Question, ex.Answer))
		}
	}

	parts = append(parts, "\nCurrent question: "+question)
	return strings.Join(parts, "\n")
}

// SummaryPrompt 构建整体摘要提示词。
func SummaryPrompt(title, content string) PromptBundle {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("Book Title: " + title + "\n")
	}
	sb.WriteString("Content so far:\n" + content)
	return newBundle(summarizePrompt, sb.String())
}

// ChunkSummaryPrompt 构建单节摘要提示词。
func ChunkSummaryPrompt(title, chunkID, text string, continuation bool) PromptBundle {
	system := summarizeChunkPrompt
	if continuation {
		system += continuationSuffix
	}

	var sb strings.Builder
	if title != "" {
		sb.WriteString("Book: " + title + "\n")
	}
	sb.WriteString("Section ID: " + chunkID + "\n")
	sb.WriteString("Text to summarize:\n" + text)
	return newBundle(system, sb.String())
}

package biz

import (
	"bytes"
	"fmt"

	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

// ChunkInput 客户端提交的一个分块，既可以是纯文本，也可以是带页码的对象。
//
//	"some text"
//	{"text": "some text", "page_number": 12, "metadata": {...}}
type ChunkInput struct {
	Text       string         `json:"text"`
	PageNumber *int           `json:"page_number,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON 同时接受字符串与对象两种形式。
func (c *ChunkInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = ChunkInput{Text: text}
		return nil
	}

	type plain ChunkInput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("chunk must be a string or an object with a text field: %w", err)
	}
	*c = ChunkInput(p)
	return nil
}

// TextChunks 将纯文本转换为 ChunkInput。
func TextChunks(texts ...string) []ChunkInput {
	out := make([]ChunkInput, len(texts))
	for i, t := range texts {
		out[i] = ChunkInput{Text: t}
	}
	return out
}

// PrepareChunks 按提交顺序编号，并写入 book_title 与 chunk_length 元数据。
func PrepareChunks(inputs []ChunkInput, title string) []store.Chunk {
	chunks := make([]store.Chunk, len(inputs))
	for i, in := range inputs {
		meta := make(map[string]any, len(in.Metadata)+2)
		for k, v := range in.Metadata {
			meta[k] = v
		}
		if title != "" {
			meta["book_title"] = title
		} else {
			meta["book_title"] = nil
		}
		meta["chunk_length"] = len([]rune(in.Text))

		chunks[i] = store.Chunk{
			Text:       in.Text,
			ChunkIndex: i,
			PageNumber: in.PageNumber,
			Metadata:   meta,
		}
	}
	return chunks
}

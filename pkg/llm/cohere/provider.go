// Package cohere 提供 Cohere Chat 供应商实现（v1/chat 接口）。
package cohere

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/utils/httpclient"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

// ProviderName 是 Cohere 供应商的名称标识符。
const ProviderName = "cohere"

func init() {
	llm.RegisterChatProvider(ProviderName, NewProvider)
}

// Config Cohere 供应商配置。
type Config struct {
	BaseURL   string        `json:"base_url" mapstructure:"base_url"`
	APIKey    string        `json:"api_key" mapstructure:"api_key"`
	ChatModel string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   "https://api.cohere.ai/v1",
		ChatModel: "command-r-plus-08-2024",
		Timeout:   60 * time.Second,
	}
}

// Provider Cohere 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 Cohere 供应商。
func NewProvider(configMap map[string]any) (llm.ChatProvider, error) {
	cfg := DefaultConfig()

	if v, ok := configMap["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
	}
	if v, ok := configMap["api_key"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := configMap["chat_model"].(string); ok && v != "" {
		cfg.ChatModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, 0),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Configured 报告是否配置了 API 密钥。
func (p *Provider) Configured() bool {
	return p.config.APIKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	Text string `json:"text"`
}

type contentBlock struct {
	Text string `json:"text"`
}

// Chat 调用 Cohere chat 接口。
// Cohere 只接收单条用户消息，调用方负责先将多条消息合并。
func (p *Provider) Chat(ctx context.Context, in *llm.ChatRequest) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("Cohere: %w", llm.ErrNotConfigured)
	}

	model := in.Model
	if model == "" {
		model = p.config.ChatModel
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    in.Messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	var resp chatResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return "", llm.WrapHTTPError(ProviderName, "", err)
	}

	text := strings.TrimSpace(extractText(&resp))
	if text == "" {
		return "", fmt.Errorf("no summary found in Cohere response: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}

// extractText 解析 message.content：可能是内容块列表或字符串；旧版接口使用顶层 text。
func extractText(resp *chatResponse) string {
	if resp.Message != nil && len(resp.Message.Content) > 0 {
		var blocks []contentBlock
		if err := json.Unmarshal(resp.Message.Content, &blocks); err == nil {
			if len(blocks) > 0 {
				return blocks[0].Text
			}
			return ""
		}
		var s string
		if err := json.Unmarshal(resp.Message.Content, &s); err == nil {
			return s
		}
	}
	return resp.Text
}

var _ llm.ChatProvider = (*Provider)(nil)

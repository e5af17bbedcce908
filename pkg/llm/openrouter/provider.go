// Package openrouter 提供 OpenRouter Chat 供应商实现。
// OpenRouter 兼容 OpenAI chat/completions 协议，模型按请求指定。
//
//	import _ "github.com/kart-io/bookrag/pkg/llm/openrouter"
//
//	provider, err := llm.NewChatProvider("openrouter", map[string]any{
//	    "api_key": os.Getenv("OPENROUTER_API_KEY"),
//	})
//	answer, err := provider.Chat(ctx, &llm.ChatRequest{
//	    Model:    "deepseek/deepseek-chat-v3-0324:free",
//	    Messages: messages,
//	})
package openrouter

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

// ProviderName 是 OpenRouter 供应商的名称标识符。
const ProviderName = "openrouter"

func init() {
	llm.RegisterChatProvider(ProviderName, NewProvider)
}

// Config OpenRouter 供应商配置。
type Config struct {
	// BaseURL API 基础地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey API 密钥，为空时所有请求返回 llm.ErrNotConfigured。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// ChatModel 请求未指定模型时使用的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// TopP 核采样参数。
	TopP float64 `json:"top_p" mapstructure:"top_p"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Referer 和 Title 用于 OpenRouter 的应用归属统计（可选）。
	Referer string `json:"referer" mapstructure:"referer"`
	Title   string `json:"title" mapstructure:"title"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:   "https://openrouter.ai/api/v1",
		ChatModel: "deepseek/deepseek-chat-v3-0324:free",
		TopP:      0.9,
		Timeout:   60 * time.Second,
	}
}

// Provider OpenRouter 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建 OpenRouter 供应商。
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
	if v, ok := configMap["top_p"].(float64); ok && v > 0 {
		cfg.TopP = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := configMap["referer"].(string); ok {
		cfg.Referer = v
	}
	if v, ok := configMap["title"].(string); ok {
		cfg.Title = v
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
// 模型回退由调用方负责，因此 HTTP 层不做重试。
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
	TopP        float64       `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

// Chat 调用 chat/completions。
// 响应内容优先取 choices[0].message.content，其次 choices[0].text；为空时返回 llm.ErrEmptyResponse。
func (p *Provider) Chat(ctx context.Context, in *llm.ChatRequest) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("OpenRouter: %w", llm.ErrNotConfigured)
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
		TopP:        p.config.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	p.setHeaders(req)

	var resp chatResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return "", llm.WrapHTTPError(ProviderName, model, err)
	}

	var text string
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message != nil {
			text = choice.Message.Content
		} else {
			text = choice.Text
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", model, llm.ErrEmptyResponse)
	}
	return text, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if p.config.Referer != "" {
		req.Header.Set("HTTP-Referer", p.config.Referer)
	}
	if p.config.Title != "" {
		req.Header.Set("X-Title", p.config.Title)
	}
}

var _ llm.ChatProvider = (*Provider)(nil)

package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/options"
)

// GenerationOptions 生成网关配置：OpenRouter 为主供应商，Cohere 为可选备用。
type GenerationOptions struct {
	OpenRouter *OpenRouterOptions `json:"openrouter" mapstructure:"openrouter"`
	Cohere     *CohereOptions     `json:"cohere" mapstructure:"cohere"`
}

// OpenRouterOptions 主供应商配置。
type OpenRouterOptions struct {
	BaseURL string `json:"base-url" mapstructure:"base-url"`
	APIKey  string `json:"-" mapstructure:"api-key"`
	// Models 依次尝试的模型。
	Models  []string      `json:"models" mapstructure:"models"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// Referer 与 Title 作为 HTTP-Referer / X-Title 头上报给 OpenRouter。
	Referer string `json:"referer" mapstructure:"referer"`
	Title   string `json:"title" mapstructure:"title"`
}

// CohereOptions 备用供应商配置，APIKey 为空表示未配置。
type CohereOptions struct {
	BaseURL string        `json:"base-url" mapstructure:"base-url"`
	APIKey  string        `json:"-" mapstructure:"api-key"`
	Model   string        `json:"model" mapstructure:"model"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewGenerationOptions 创建默认生成配置。
func NewGenerationOptions() *GenerationOptions {
	return &GenerationOptions{
		OpenRouter: &OpenRouterOptions{
			BaseURL: "https://openrouter.ai/api/v1",
			Models: []string{
				"deepseek/deepseek-chat-v3-0324:free",
				"moonshotai/kimi-k2:free",
			},
			Timeout: 60 * time.Second,
		},
		Cohere: &CohereOptions{
			BaseURL: "https://api.cohere.ai/v1",
			Model:   "command-r-plus-08-2024",
			Timeout: 60 * time.Second,
		},
	}
}

// PrimaryConfigMap 返回 openrouter 供应商工厂使用的配置。
func (o *GenerationOptions) PrimaryConfigMap() map[string]any {
	m := map[string]any{
		"base_url": o.OpenRouter.BaseURL,
		"api_key":  o.OpenRouter.APIKey,
		"timeout":  o.OpenRouter.Timeout,
		"referer":  o.OpenRouter.Referer,
		"title":    o.OpenRouter.Title,
	}
	if len(o.OpenRouter.Models) > 0 {
		m["chat_model"] = o.OpenRouter.Models[0]
	}
	return m
}

// SecondaryConfigMap 返回 cohere 供应商工厂使用的配置。
func (o *GenerationOptions) SecondaryConfigMap() map[string]any {
	return map[string]any{
		"base_url":   o.Cohere.BaseURL,
		"api_key":    o.Cohere.APIKey,
		"chat_model": o.Cohere.Model,
		"timeout":    o.Cohere.Timeout,
	}
}

// HasSecondary reports whether the Cohere fallback has an API key.
func (o *GenerationOptions) HasSecondary() bool {
	return o.Cohere != nil && o.Cohere.APIKey != ""
}

// AddFlags adds flags for generation options to the specified FlagSet.
func (o *GenerationOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "generation."
	fs.StringVar(&o.OpenRouter.BaseURL, p+"openrouter.base-url", o.OpenRouter.BaseURL, "OpenRouter API base URL.")
	fs.StringVar(&o.OpenRouter.APIKey, p+"openrouter.api-key", o.OpenRouter.APIKey, "OpenRouter API key (falls back to "+OpenRouterAPIKeyEnv+").")
	fs.StringSliceVar(&o.OpenRouter.Models, p+"openrouter.models", o.OpenRouter.Models, "OpenRouter models, tried in order.")
	fs.DurationVar(&o.OpenRouter.Timeout, p+"openrouter.timeout", o.OpenRouter.Timeout, "OpenRouter request timeout.")
	fs.StringVar(&o.OpenRouter.Referer, p+"openrouter.referer", o.OpenRouter.Referer, "HTTP-Referer header sent to OpenRouter.")
	fs.StringVar(&o.OpenRouter.Title, p+"openrouter.title", o.OpenRouter.Title, "X-Title header sent to OpenRouter.")

	fs.StringVar(&o.Cohere.BaseURL, p+"cohere.base-url", o.Cohere.BaseURL, "Cohere API base URL.")
	fs.StringVar(&o.Cohere.APIKey, p+"cohere.api-key", o.Cohere.APIKey, "Cohere API key (falls back to "+CohereAPIKeyEnv+"). Empty disables the fallback.")
	fs.StringVar(&o.Cohere.Model, p+"cohere.model", o.Cohere.Model, "Cohere chat model.")
	fs.DurationVar(&o.Cohere.Timeout, p+"cohere.timeout", o.Cohere.Timeout, "Cohere request timeout.")
}

// Validate validates the generation options.
// 缺少 API 密钥不是配置错误：请求时返回 ConfigurationError 并降级到备用供应商。
func (o *GenerationOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.OpenRouter == nil || o.Cohere == nil {
		return append(errs, fmt.Errorf("generation: openrouter and cohere sections are required"))
	}
	if o.OpenRouter.BaseURL == "" {
		errs = append(errs, fmt.Errorf("generation.openrouter.base-url is required"))
	}
	if len(o.OpenRouter.Models) == 0 {
		errs = append(errs, fmt.Errorf("generation.openrouter.models must not be empty"))
	}
	if o.OpenRouter.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("generation.openrouter.timeout must be positive"))
	}
	if o.Cohere.APIKey != "" && o.Cohere.Model == "" {
		errs = append(errs, fmt.Errorf("generation.cohere.model is required when cohere is configured"))
	}
	if o.Cohere.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("generation.cohere.timeout must be positive"))
	}
	return errs
}

// Complete 从环境变量补全 API 密钥。
func (o *GenerationOptions) Complete() error {
	defaults := NewGenerationOptions()
	if o.OpenRouter == nil {
		o.OpenRouter = defaults.OpenRouter
	}
	if o.Cohere == nil {
		o.Cohere = defaults.Cohere
	}
	if o.OpenRouter.APIKey == "" {
		o.OpenRouter.APIKey = os.Getenv(OpenRouterAPIKeyEnv)
	}
	if o.Cohere.APIKey == "" {
		o.Cohere.APIKey = os.Getenv(CohereAPIKeyEnv)
	}
	return nil
}

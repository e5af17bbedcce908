// Package llm provides embedding and generation provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/bookrag/pkg/options"
)

var (
	_ options.IOptions = (*EmbeddingOptions)(nil)
	_ options.IOptions = (*GenerationOptions)(nil)
)

// 供应商 API 密钥的环境变量名。
const (
	OpenAIAPIKeyEnv     = "OPENAI_API_KEY"
	OpenRouterAPIKeyEnv = "OPENROUTER_API_KEY"
	CohereAPIKeyEnv     = "COHERE_API_KEY"
)

// EmbeddingOptions 定义向量化供应商配置。
// 索引构建与查询必须使用同一模型，更换模型后需要清空磁盘缓存。
type EmbeddingOptions struct {
	// Provider 供应商名称（ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（openai 需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 向量模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Dimensions 输出维度，0 表示模型默认值。
	Dimensions int `json:"dimensions" mapstructure:"dimensions"`

	// BatchSize 单次请求的最大输入条数。
	BatchSize int `json:"batch-size" mapstructure:"batch-size"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 瞬时错误的最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（openai 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// BreakerMaxFailures 连续失败多少次后熔断，0 表示关闭熔断。
	BreakerMaxFailures int `json:"breaker-max-failures" mapstructure:"breaker-max-failures"`

	// BreakerOpenTimeout 熔断打开后多久进入半开。
	BreakerOpenTimeout time.Duration `json:"breaker-open-timeout" mapstructure:"breaker-open-timeout"`
}

// NewEmbeddingOptions 创建默认向量化配置。
func NewEmbeddingOptions() *EmbeddingOptions {
	return &EmbeddingOptions{
		Provider:           "ollama",
		BaseURL:            "http://localhost:11434",
		Model:              "all-minilm",
		BatchSize:          256,
		Timeout:            120 * time.Second,
		MaxRetries:         3,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 60 * time.Second,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *EmbeddingOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"dimensions":   o.Dimensions,
		"batch_size":   o.BatchSize,
		"timeout":      o.Timeout,
		"max_retries":  o.MaxRetries,
		"organization": o.Organization,
	}
}

// AddFlags adds flags for embedding options to the specified FlagSet.
func (o *EmbeddingOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "embedding."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Embedding provider (ollama, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Embedding API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Embedding API key (falls back to "+OpenAIAPIKeyEnv+").")
	fs.StringVar(&o.Model, p+"model", o.Model, "Embedding model name.")
	fs.IntVar(&o.Dimensions, p+"dimensions", o.Dimensions, "Embedding output dimensions, 0 for the model default.")
	fs.IntVar(&o.BatchSize, p+"batch-size", o.BatchSize, "Maximum inputs per embedding request.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Embedding request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Retries for transient embedding failures.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (openai, optional).")
	fs.IntVar(&o.BreakerMaxFailures, p+"breaker-max-failures", o.BreakerMaxFailures, "Consecutive failures before the circuit opens, 0 disables the breaker.")
	fs.DurationVar(&o.BreakerOpenTimeout, p+"breaker-open-timeout", o.BreakerOpenTimeout, "How long the circuit stays open before probing.")
}

// Validate validates the embedding options.
func (o *EmbeddingOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Provider {
	case "ollama":
	case "openai":
		if o.APIKey == "" {
			errs = append(errs, fmt.Errorf("embedding.api-key is required for the openai provider"))
		}
	case "":
		errs = append(errs, fmt.Errorf("embedding.provider is required"))
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", o.Provider))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("embedding.model is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("embedding.timeout must be positive"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("embedding.max-retries must not be negative"))
	}
	if o.BreakerMaxFailures > 0 && o.BreakerOpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("embedding.breaker-open-timeout must be positive when the breaker is enabled"))
	}
	return errs
}

// Complete completes the embedding options with defaults.
func (o *EmbeddingOptions) Complete() error {
	if o.Provider == "openai" && o.APIKey == "" {
		o.APIKey = os.Getenv(OpenAIAPIKeyEnv)
	}
	if o.Provider == "openai" && o.BaseURL == NewEmbeddingOptions().BaseURL {
		o.BaseURL = "https://api.openai.com/v1"
	}
	return nil
}

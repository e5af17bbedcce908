// Package gateway 实现多供应商生成网关。
//
// 主供应商按模型列表依次尝试，瞬时错误切换到下一个模型；
// 主供应商整体失败后，将消息合并为单条提示交给备用供应商发送一次。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/pkg/llm"
)

// DefaultModels 主供应商默认模型顺序。
var DefaultModels = []string{
	"deepseek/deepseek-chat-v3-0324:free",
	"moonshotai/kimi-k2:free",
}

// OutcomeKind 单次尝试的结果分类。
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Outcome 单次尝试的结果。
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// Classify 将一次供应商调用的返回值归类。
func Classify(text string, err error) Outcome {
	switch {
	case err == nil && strings.TrimSpace(text) != "":
		return Outcome{Kind: OutcomeSuccess, Text: strings.TrimSpace(text)}
	case err == nil:
		return Outcome{Kind: OutcomeTransient, Err: llm.ErrEmptyResponse}
	case llm.IsTransient(err):
		return Outcome{Kind: OutcomeTransient, Err: err}
	default:
		return Outcome{Kind: OutcomeFatal, Err: err}
	}
}

// Config 网关配置。
type Config struct {
	// Models 主供应商依次尝试的模型，为空时使用 DefaultModels。
	Models []string

	// PrimaryLabel 与 SecondaryLabel 用于错误信息展示。
	PrimaryLabel   string
	SecondaryLabel string

	// OnFallback 每次降级时回调，stage 为 "model" 或 "provider"。
	OnFallback func(stage string)
}

// Gateway 生成网关。
type Gateway struct {
	primary   llm.ChatProvider
	secondary llm.ChatProvider
	cfg       Config
}

// New 创建网关。secondary 为 nil 表示未配置备用供应商。
func New(primary, secondary llm.ChatProvider, cfg Config) *Gateway {
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels
	}
	if cfg.PrimaryLabel == "" {
		cfg.PrimaryLabel = "OpenRouter"
	}
	if cfg.SecondaryLabel == "" {
		cfg.SecondaryLabel = "Cohere"
	}
	return &Gateway{primary: primary, secondary: secondary, cfg: cfg}
}

// Models 返回主供应商模型列表。
func (g *Gateway) Models() []string {
	return g.cfg.Models
}

// HasSecondary 报告是否配置了备用供应商。
func (g *Gateway) HasSecondary() bool {
	return g.secondary != nil
}

// Generate 依次调用主供应商的各个模型和备用供应商，返回第一个非空回答。
func (g *Gateway) Generate(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error) {
	text, primaryErr := g.tryPrimary(ctx, messages, maxTokens, temperature)
	if primaryErr == nil {
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	logger.Warnw("主供应商失败", "provider", g.cfg.PrimaryLabel, "error", primaryErr.Error())

	if g.secondary == nil {
		return "", &AllProvidersFailedError{
			PrimaryLabel:   g.cfg.PrimaryLabel,
			SecondaryLabel: g.cfg.SecondaryLabel,
			Primary:        primaryErr,
		}
	}

	g.fallback("provider")
	logger.Warnw("降级到备用供应商", "provider", g.cfg.SecondaryLabel)

	outcome := Classify(g.secondary.Chat(ctx, &llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: FlattenMessages(messages)}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}))
	if outcome.Kind == OutcomeSuccess {
		return outcome.Text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	logger.Warnw("备用供应商失败", "provider", g.cfg.SecondaryLabel, "error", outcome.Err.Error())
	return "", &AllProvidersFailedError{
		PrimaryLabel:   g.cfg.PrimaryLabel,
		SecondaryLabel: g.cfg.SecondaryLabel,
		Primary:        primaryErr,
		Secondary:      outcome.Err,
	}
}

func (g *Gateway) tryPrimary(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error) {
	if g.primary == nil {
		return "", &primaryError{
			summary: g.cfg.PrimaryLabel + " API key not configured.",
			cause:   llm.ErrNotConfigured,
		}
	}

	var attempts []string
	var causes []error
	for i, model := range g.cfg.Models {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		outcome := Classify(g.primary.Chat(ctx, &llm.ChatRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}))

		switch outcome.Kind {
		case OutcomeSuccess:
			return outcome.Text, nil

		case OutcomeTransient:
			attempts = append(attempts, model+": "+outcome.Err.Error())
			causes = append(causes, outcome.Err)
			if i < len(g.cfg.Models)-1 {
				g.fallback("model")
				logger.Warnw("模型调用失败，切换到下一个模型",
					"model", model,
					"next_model", g.cfg.Models[i+1],
					"error", outcome.Err.Error(),
				)
			}

		case OutcomeFatal:
			if errors.Is(outcome.Err, llm.ErrNotConfigured) {
				return "", &primaryError{
					summary: g.cfg.PrimaryLabel + " API key not configured.",
					cause:   outcome.Err,
				}
			}
			if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, context.DeadlineExceeded) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", ctxErr
				}
			}
			return "", &primaryError{summary: outcome.Err.Error(), cause: outcome.Err}
		}
	}

	return "", &primaryError{
		summary: fmt.Sprintf("All AI models failed to generate summary (%s)", strings.Join(attempts, "; ")),
		cause:   errors.Join(causes...),
	}
}

func (g *Gateway) fallback(stage string) {
	if g.cfg.OnFallback != nil {
		g.cfg.OnFallback(stage)
	}
}

// FlattenMessages 将多条消息合并为单条提示：system 渲染为 "Instructions: ..."，
// user 原样保留，assistant 丢弃，各段以空行分隔。
func FlattenMessages(messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			parts = append(parts, "Instructions: "+msg.Content)
		case llm.RoleUser:
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// primaryError 主供应商失败摘要，保留原始错误链。
type primaryError struct {
	summary string
	cause   error
}

func (e *primaryError) Error() string { return e.summary }

func (e *primaryError) Unwrap() error { return e.cause }

// AllProvidersFailedError 所有供应商均失败。Secondary 为 nil 表示未配置备用供应商。
type AllProvidersFailedError struct {
	PrimaryLabel   string
	SecondaryLabel string
	Primary        error
	Secondary      error
}

func (e *AllProvidersFailedError) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("%s failed and %s not configured: %v", e.PrimaryLabel, e.SecondaryLabel, e.Primary)
	}
	return fmt.Sprintf("All AI services failed. %s: %v, %s: %v", e.PrimaryLabel, e.Primary, e.SecondaryLabel, e.Secondary)
}

func (e *AllProvidersFailedError) Unwrap() []error {
	if e.Secondary == nil {
		return []error{e.Primary}
	}
	return []error{e.Primary, e.Secondary}
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortexflow/cortex/internal/errs"
)

// AnthropicConfig configures the Anthropic-backed provider, grounded on
// the teacher's AnthropicConfig (internal/agent/providers/anthropic.go),
// trimmed of the streaming-specific fields Cortex's single-shot
// completions don't need.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider implements Provider against Anthropic's Messages API.
// Unlike the teacher's streaming AnthropicProvider, Cortex's LLMClient
// contract (spec §4.6) is always a single completed response, so this
// provider issues one non-streaming request per call.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, temperature float64, jsonSchema json.RawMessage) (string, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(jsonSchema) > 0 {
		system = strings.TrimSpace(system + "\n\nRespond with JSON only, matching this schema:\n" + string(jsonSchema))
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.defaultModel),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    turns,
	})
	if err != nil {
		return "", p.classify(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// classify maps an Anthropic SDK error onto spec §7's Transient/Permanent
// split, mirroring the teacher's isRetryableError substring-classification
// idiom (internal/agent/providers/anthropic.go), since the SDK does not
// expose a typed retryable flag for every failure mode.
func (p *AnthropicProvider) classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return errs.Transient("anthropic.complete", err)
		case apiErr.StatusCode >= 400:
			return errs.Permanent("anthropic.complete", err)
		}
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused"} {
		if strings.Contains(msg, needle) {
			return errs.Transient("anthropic.complete", err)
		}
	}
	return errs.Permanent("anthropic.complete", err)
}

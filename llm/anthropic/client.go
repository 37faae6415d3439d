// Package anthropic provides an llm.Port implementation backed by the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
// It is one of three swappable drivers behind the kernel's opaque LLM port
// (spec §6); the kernel itself never imports this package.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ctrlplane/kernel/llm"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, letting tests substitute a mock in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	// Model is the Claude model identifier used for every Complete call.
	Model string
	// MaxTokens caps the completion length. Defaults to 1024 when unset.
	MaxTokens int
	// Temperature is passed through to the Messages API when positive.
	Temperature float64
}

// Client implements llm.Port on top of Anthropic Claude Messages.
type Client struct {
	msg   MessagesClient
	model string
	maxTok int
	temp  float64
}

var _ llm.Port = (*Client)(nil)

// New builds a Client from an injected Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 1024
	}
	return &Client{msg: msg, model: opts.Model, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{Model: model})
}

// Complete issues a non-streaming Messages.New request and flattens the
// response into plain text, satisfying llm.Port.
func (c *Client) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("anthropic: at least one message is required")
	}
	msgs := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch strings.ToLower(m.Role) {
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

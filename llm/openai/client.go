// Package openai provides an llm.Port implementation backed by the OpenAI
// Chat Completions API via github.com/openai/openai-go. One of three
// swappable drivers behind the kernel's opaque LLM port (spec §6).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ctrlplane/kernel/llm"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, letting tests substitute a mock for the real completions service.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client implements llm.Port via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
	temp  float64
	maxT  int
}

var _ llm.Port = (*Client)(nil)

// New builds a Client from an injected chat completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model is required")
	}
	return &Client{chat: chat, model: opts.Model, temp: opts.Temperature, maxT: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{Model: model})
}

// Complete renders a chat completion and flattens the first choice's
// message content into plain text, satisfying llm.Port.
func (c *Client) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("openai: at least one message is required")
	}

	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, sdk.SystemMessage(system))
	}
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "assistant":
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		}
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: msgs,
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	if c.maxT > 0 {
		params.MaxTokens = sdk.Int(int64(c.maxT))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completions: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Package bedrock provides an llm.Port implementation backed by the AWS
// Bedrock Converse API. One of three swappable drivers behind the kernel's
// opaque LLM port (spec §6).
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ctrlplane/kernel/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, matching *bedrockruntime.Client so callers can substitute a
// mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int32
}

// Client implements llm.Port on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	temp    float32
	maxTok  int32
}

var _ llm.Port = (*Client)(nil)

// New builds a Client from an injected Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{runtime: runtime, model: opts.Model, temp: opts.Temperature, maxTok: opts.MaxTokens}, nil
}

// Complete issues a Converse request and flattens the assistant output
// message's text blocks into plain text, satisfying llm.Port.
func (c *Client) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("bedrock: at least one message is required")
	}

	conv := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		role := brtypes.ConversationRoleUser
		if strings.ToLower(m.Role) == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		conv = append(conv, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  &c.model,
		Messages: conv,
	}
	if system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	if c.temp > 0 {
		cfg.Temperature = &c.temp
	}
	if c.maxTok > 0 {
		cfg.MaxTokens = &c.maxTok
	}
	input.InferenceConfig = cfg

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: unexpected converse output shape")
	}

	var b strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(tb.Value)
		}
	}
	return b.String(), nil
}

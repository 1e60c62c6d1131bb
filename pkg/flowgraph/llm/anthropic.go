package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client over the Anthropic messages API.
type AnthropicClient struct {
	client   anthropic.Client
	settings settings
}

// NewAnthropicClient creates a client. The default model is
// claude-sonnet-4-5.
func NewAnthropicClient(apiKey string, opts ...Option) *AnthropicClient {
	s := newSettings("claude-sonnet-4-5", opts)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(s.timeout))
	}

	return &AnthropicClient{
		client:   anthropic.NewClient(reqOpts...),
		settings: s,
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	params, err := c.buildParams(req)
	if err != nil {
		return nil, NewError(ProviderAnthropic, "build request", 0, err)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, NewError(ProviderAnthropic, "complete", apiErr.StatusCode, err)
		}
		return nil, NewError(ProviderAnthropic, "complete", 0, ctxError(ctx, err))
	}

	out := &CompletionResponse{
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: rawArgs(b.JSON.Input.Raw()),
			})
		}
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (c *AnthropicClient) buildParams(req CompletionRequest) (anthropic.MessageNewParams, error) {
	model, maxTokens, temperature := c.settings.resolve(req)

	var system []anthropic.TextBlockParam
	if req.SystemPrompt != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.SystemPrompt})
	}

	var messages []anthropic.MessageParam
	// Results of one tool batch must share a single user turn.
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == RoleTool {
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			continue
		}
		flush()

		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = emptyArgs
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	flush()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
		System:    system,
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema struct {
				Properties any      `json:"properties"`
				Required   []string `json:"required"`
			}
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return anthropic.MessageNewParams{}, fmt.Errorf("tool %s schema: %w", t.Name, err)
				}
			}
			tool := anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = tools
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{
				DisableParallelToolUse: anthropic.Bool(true),
			},
		}
	}

	return params, nil
}

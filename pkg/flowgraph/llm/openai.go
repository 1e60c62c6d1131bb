package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client   openai.Client
	settings settings
}

// NewOpenAIClient creates a client. The default model is gpt-4o-mini.
func NewOpenAIClient(apiKey string, opts ...Option) *OpenAIClient {
	s := newSettings("gpt-4o-mini", opts)

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

	return &OpenAIClient{
		client:   openai.NewClient(reqOpts...),
		settings: s,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	params, err := c.buildParams(req)
	if err != nil {
		return nil, NewError(ProviderOpenAI, "build request", 0, err)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, NewError(ProviderOpenAI, "complete", apiErr.StatusCode, err)
		}
		return nil, NewError(ProviderOpenAI, "complete", 0, ctxError(ctx, err))
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ProviderOpenAI, "complete", 0, errors.New("no choices returned"))
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArgs(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (c *OpenAIClient) buildParams(req CompletionRequest) (openai.ChatCompletionNewParams, error) {
	model, maxTokens, temperature := c.settings.resolve(req)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = emptyArgs
				}
				calls = append(calls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: calls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &schema); err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("tool %s schema: %w", t.Name, err)
				}
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(schema),
				},
			})
		}
		params.Tools = tools
		params.ParallelToolCalls = openai.Bool(false)
	}

	return params, nil
}

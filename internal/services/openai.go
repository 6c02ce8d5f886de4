package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/FutureExcited/grok-desktop/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface for any OpenAI-compatible
// chat-completion endpoint. The base URL is configurable, so the same provider serves OpenAI
// itself as well as OpenRouter-style gateways.
type OpenAI struct {
	model        string
	systemPrompt string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified base URL, API key, model name, and
// system prompt. An empty base URL falls back to the official OpenAI endpoint.
func NewOpenAI(baseURL, apiKey, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Chat opens one streaming completion call for the given message history. Failures to open the
// stream are returned directly, wrapped in models.UpstreamError carrying the provider's status
// code; failures after the stream opened are yielded through the returned iterator.
func (o OpenAI) Chat(
	ctx context.Context,
	messages []models.ChatMessage,
) (iter.Seq2[models.Chunk, error], error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}
	for _, msg := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := o.chatRequest(msgs, true)

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, &models.UpstreamError{
			StatusCode: openAIStatusCode(err),
			Message:    fmt.Sprintf("error sending request: %v", err),
		}
	}

	return func(yield func(models.Chunk, error) bool) {
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Chunk{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]

			chunk := models.Chunk{
				Role:         choice.Delta.Role,
				Content:      choice.Delta.Content,
				FinishReason: string(choice.FinishReason),
			}
			if chunk == (models.Chunk{}) {
				continue
			}

			o.logger.Debug("Received chunk", slog.String("chunk", fmt.Sprintf("%+v", chunk)))

			if !yield(chunk, nil) {
				return
			}
		}
	}, nil
}

func (o OpenAI) chatRequest(messages []goopenai.ChatCompletionMessage, stream bool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   stream,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}

	return req
}

func openAIStatusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode
	}
	return http.StatusInternalServerError
}

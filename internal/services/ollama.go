package services

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface for interacting with a local Ollama
// server instance.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	params LLMParameters

	client *api.Client
}

type ollamaEvent struct {
	chunk models.Chunk
	err   error
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server. If the provided host URL is
// invalid, the function will panic.
func NewOllama(host, model, systemPrompt string, params LLMParameters) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		params:       params,
		client:       api.NewClient(u, &http.Client{}),
	}
}

// Chat opens one streaming completion call for the given message history. The Ollama client is
// callback-based, so the call runs in its own goroutine and an error reported before the first
// chunk is surfaced as the open error; later errors are yielded through the iterator.
func (o Ollama) Chat(
	ctx context.Context,
	messages []models.ChatMessage,
) (iter.Seq2[models.Chunk, error], error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: o.systemPrompt,
		})
	}
	for _, msg := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	t := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &t,
		Options:  o.options(),
	}

	ctx, cancel := context.WithCancel(ctx)

	events := make(chan ollamaEvent)
	go func() {
		defer close(events)
		err := o.client.Chat(ctx, req, func(res api.ChatResponse) error {
			chunk := models.Chunk{
				Role:         res.Message.Role,
				Content:      res.Message.Content,
				FinishReason: res.DoneReason,
			}
			select {
			case events <- ollamaEvent{chunk: chunk}:
			case <-ctx.Done():
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case events <- ollamaEvent{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	// The first event decides whether the call failed to open at all.
	first, ok := <-events
	if ok && first.err != nil {
		cancel()
		return nil, &models.UpstreamError{
			StatusCode: ollamaStatusCode(first.err),
			Message:    first.err.Error(),
		}
	}

	return func(yield func(models.Chunk, error) bool) {
		defer cancel()

		if !ok {
			return
		}
		if !yield(first.chunk, nil) {
			return
		}
		for ev := range events {
			if ev.err != nil {
				yield(models.Chunk{}, ev.err)
				return
			}
			if !yield(ev.chunk, nil) {
				return
			}
		}
	}, nil
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	return opts
}

func ollamaStatusCode(err error) int {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode != 0 {
		return statusErr.StatusCode
	}
	return http.StatusInternalServerError
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/tmaxmax/go-sse"
)

// RelayClient is the HTTP transport to the stream relay. It posts one chat request and decodes
// the server-sent event body into stream frames.
type RelayClient struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

// NewRelayClient creates a new RelayClient targeting the given relay endpoint.
func NewRelayClient(endpoint string, logger *slog.Logger) *RelayClient {
	return &RelayClient{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "relayclient")),
	}
}

// Stream issues the chat request and returns an iterator over the relayed frames. A non-200
// response is a request-level failure and is returned directly; the iterator stops by itself
// after a terminal or error frame, and canceling the context closes the underlying connection,
// which stops the relay's upstream pull as well.
func (c *RelayClient) Stream(
	ctx context.Context,
	chatReq models.ChatRequest,
) (iter.Seq2[models.StreamFrame, error], error) {
	jsonBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return func(yield func(models.StreamFrame, error) bool) {
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(models.StreamFrame{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			c.logger.Debug("Received event", slog.String("event", ev.Data))

			var frame models.StreamFrame
			if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
				yield(models.StreamFrame{}, fmt.Errorf("error unmarshaling frame: %w", err))
				return
			}

			if !yield(frame, nil) {
				return
			}
			if frame.IsTerminal() || frame.IsError() {
				return
			}
		}
	}, nil
}

package handlers

import (
	"context"
	"iter"
	"log/slog"

	"github.com/FutureExcited/grok-desktop/internal/metrics"
	"github.com/FutureExcited/grok-desktop/internal/models"
)

// LLM represents an upstream completion provider. Chat opens exactly one streaming call for the
// given message history; an error returned directly means the call failed before any chunk was
// streamed, while errors yielded by the iterator occurred mid-stream.
type LLM interface {
	Chat(ctx context.Context, messages []models.ChatMessage) (iter.Seq2[models.Chunk, error], error)
}

// Main handles the relay's HTTP surface, turning one inbound chat request into one upstream
// streaming call and one outbound frame sequence.
type Main struct {
	llm LLM

	metrics *metrics.Metrics
	logger  *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance with the provided LLM implementation.
func NewMain(llm LLM, m *metrics.Metrics, logger *slog.Logger) Main {
	return Main{
		llm:     llm,
		metrics: m,
		logger:  logger.With(slog.String("module", "handlers")),
	}
}

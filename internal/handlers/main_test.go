package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FutureExcited/grok-desktop/internal/handlers"
	"github.com/FutureExcited/grok-desktop/internal/metrics"
	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockLLM struct {
	chunks  []models.Chunk
	openErr error
	midErr  error
	pulled  *int
}

func (m mockLLM) Chat(_ context.Context, _ []models.ChatMessage) (iter.Seq2[models.Chunk, error], error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return func(yield func(models.Chunk, error) bool) {
		for _, chunk := range m.chunks {
			if m.pulled != nil {
				*m.pulled++
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if m.midErr != nil {
			yield(models.Chunk{}, m.midErr)
		}
	}, nil
}

func newTestMain(llm handlers.LLM) handlers.Main {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handlers.NewMain(llm, metrics.New(prometheus.NewRegistry()), logger)
}

func postChat(t *testing.T, m handlers.Main, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	m.HandleChat(w, req)
	return w
}

func decodeFrames(t *testing.T, body string) []models.StreamFrame {
	t.Helper()

	var frames []models.StreamFrame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame models.StreamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("failed to unmarshal frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestHandleChatValidation(t *testing.T) {
	m := newTestMain(mockLLM{})

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Preflight",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Missing body",
			method:     http.MethodPost,
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid messages format",
		},
		{
			name:       "Messages not a list",
			method:     http.MethodPost,
			body:       `{"messages":"hi"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid messages format",
		},
		{
			name:       "Messages missing",
			method:     http.MethodPost,
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid messages format",
		},
		{
			name:       "Messages empty",
			method:     http.MethodPost,
			body:       `{"messages":[]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Invalid messages format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			m.HandleChat(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChat() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleChat() body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
			if w.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("HandleChat() missing CORS header")
			}
		})
	}
}

func TestHandleChatStream(t *testing.T) {
	m := newTestMain(mockLLM{
		chunks: []models.Chunk{
			{Role: "assistant"},
			{Content: "Hel"},
			{Role: "assistant", Content: "lo"},
			{Content: " world"},
			{FinishReason: "stop"},
		},
	})

	w := postChat(t, m, `{"messages":[{"role":"user","content":"hi"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleChat() status = %v, want %v", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	frames := decodeFrames(t, w.Body.String())

	roles := 0
	terminals := 0
	var content strings.Builder
	for _, frame := range frames {
		switch frame.Kind() {
		case "role":
			roles++
		case "content":
			content.WriteString(frame.Content)
		case "terminal":
			terminals++
		default:
			t.Errorf("unexpected frame: %+v", frame)
		}
	}

	if roles != 1 {
		t.Errorf("role frames = %d, want exactly 1", roles)
	}
	if terminals != 1 {
		t.Errorf("terminal frames = %d, want exactly 1", terminals)
	}
	if content.String() != "Hello world" {
		t.Errorf("concatenated content = %q, want %q", content.String(), "Hello world")
	}

	last := frames[len(frames)-1]
	if !last.IsTerminal() || last.FinishReason != "stop" {
		t.Errorf("last frame = %+v, want terminal with finish reason stop", last)
	}
}

func TestHandleChatSynthesizedTerminal(t *testing.T) {
	m := newTestMain(mockLLM{
		chunks: []models.Chunk{
			{Content: "partial"},
		},
	})

	w := postChat(t, m, `{"messages":[{"role":"user","content":"hi"}]}`)

	frames := decodeFrames(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	last := frames[len(frames)-1]
	if !last.IsTerminal() {
		t.Errorf("last frame = %+v, want synthesized terminal", last)
	}
	if last.FinishReason != "" {
		t.Errorf("synthesized terminal finish reason = %q, want empty", last.FinishReason)
	}
}

func TestHandleChatStopsAfterTerminal(t *testing.T) {
	m := newTestMain(mockLLM{
		chunks: []models.Chunk{
			{Content: "before"},
			{FinishReason: "stop"},
			{Content: "after"},
		},
	})

	w := postChat(t, m, `{"messages":[{"role":"user","content":"hi"}]}`)

	frames := decodeFrames(t, w.Body.String())
	for _, frame := range frames {
		if frame.Content == "after" {
			t.Error("content emitted after the terminal frame")
		}
	}
	if !frames[len(frames)-1].IsTerminal() {
		t.Errorf("last frame = %+v, want terminal", frames[len(frames)-1])
	}
}

// brokenWriter simulates a client that went away mid-stream: once a write carrying the trigger
// substring is attempted, that write and every later one fail.
type brokenWriter struct {
	*httptest.ResponseRecorder
	failOn string
	broken bool
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), b.failOn) {
		b.broken = true
	}
	if b.broken {
		return 0, errors.New("broken pipe")
	}
	return b.ResponseRecorder.Write(p)
}

func TestHandleChatClientDisconnect(t *testing.T) {
	chunks := []models.Chunk{
		{Role: "assistant"},
		{Content: "Hel"},
		{Content: "lo"},
		{FinishReason: "stop"},
	}

	tests := []struct {
		name      string
		failOn    string
		wantPulls int
	}{
		{
			name:      "Disconnect before the first frame",
			failOn:    `"role":"assistant"`,
			wantPulls: 1,
		},
		{
			name:      "Disconnect before the terminal frame",
			failOn:    `"done":true`,
			wantPulls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pulled := 0
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			met := metrics.New(prometheus.NewRegistry())
			m := handlers.NewMain(mockLLM{chunks: chunks, pulled: &pulled}, met, logger)

			req := httptest.NewRequest(http.MethodPost, "/api/chat",
				strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
			w := &brokenWriter{ResponseRecorder: httptest.NewRecorder(), failOn: tt.failOn}

			m.HandleChat(w, req)

			if pulled != tt.wantPulls {
				t.Errorf("chunks pulled = %d, want %d", pulled, tt.wantPulls)
			}
			if strings.Contains(w.Body.String(), `"done":true`) {
				t.Error("terminal frame reached a disconnected client")
			}
			if got := testutil.ToFloat64(met.StreamsTotal.WithLabelValues("disconnected")); got != 1 {
				t.Errorf("disconnected streams = %v, want 1", got)
			}
		})
	}
}

func TestHandleChatMidStreamError(t *testing.T) {
	m := newTestMain(mockLLM{
		chunks: []models.Chunk{
			{Content: "one"},
			{Content: "two"},
		},
		midErr: errors.New("upstream went away"),
	})

	w := postChat(t, m, `{"messages":[{"role":"user","content":"hi"}]}`)

	frames := decodeFrames(t, w.Body.String())
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 2 content + 1 error", len(frames))
	}

	for _, frame := range frames[:2] {
		if frame.Kind() != "content" {
			t.Errorf("frame = %+v, want content", frame)
		}
	}

	last := frames[2]
	if !last.IsError() {
		t.Fatalf("last frame = %+v, want error", last)
	}
	if !strings.Contains(last.Error, "upstream went away") {
		t.Errorf("error frame message = %q, want upstream message", last.Error)
	}
	for _, frame := range frames {
		if frame.IsTerminal() {
			t.Error("terminal frame emitted on a failed stream")
		}
	}
}

func TestHandleChatUpstreamError(t *testing.T) {
	tests := []struct {
		name       string
		openErr    error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Provider status propagated",
			openErr:    &models.UpstreamError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   "rate limited",
		},
		{
			name:       "Unknown error defaults to 500",
			openErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Failed to get chat completion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(mockLLM{openErr: tt.openErr})

			w := postChat(t, m, `{"messages":[{"role":"user","content":"hi"}]}`)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChat() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleChat() body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

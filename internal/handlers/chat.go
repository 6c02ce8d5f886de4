package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/tmaxmax/go-sse"
)

// HandleChat processes one chat completion request and relays the upstream response as
// server-sent events. The request body carries an ordered list of role/content turns plus
// optional context info; generation parameters come from configuration, not from the caller.
//
// Frames are emitted in upstream order: at most one role frame, zero or more content frames,
// then exactly one terminal frame (synthesized if the provider never signaled a finish reason).
// A failure after the stream opened is converted into a single error frame instead, and a
// failure before the stream opened is surfaced as an HTTP error with the provider's status.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.logger.Error("Failed to decode request body", slog.String(errLoggerKey, err.Error()))
		m.metrics.StreamsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "Invalid messages format", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		m.logger.Error("Invalid messages format", slog.String("request", "messages missing or empty"))
		m.metrics.StreamsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "Invalid messages format", http.StatusBadRequest)
		return
	}

	if req.ContextInfo != nil {
		m.logger.Debug("Context info",
			slog.Bool("webSearch", req.ContextInfo.WebSearch),
			slog.Bool("deepSearch", req.ContextInfo.DeepSearch),
			slog.Bool("think", req.ContextInfo.Think),
			slog.Int("textFiles", len(req.ContextInfo.TextFiles)),
			slog.Int("imageFiles", len(req.ContextInfo.ImageFiles)))
	}

	stream, err := m.llm.Chat(r.Context(), req.Messages)
	if err != nil {
		status := http.StatusInternalServerError
		message := "Failed to get chat completion"

		var upstreamErr *models.UpstreamError
		if errors.As(err, &upstreamErr) {
			status = upstreamErr.StatusCode
			message = upstreamErr.Message
		}

		m.logger.Error("Upstream call failed",
			slog.Int("status", status),
			slog.String(errLoggerKey, err.Error()))
		m.metrics.StreamsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, message, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	start := time.Now()
	outcome := "completed"
	m.metrics.StreamsInFlight.Inc()
	defer func() {
		m.metrics.StreamsInFlight.Dec()
		m.metrics.StreamsTotal.WithLabelValues(outcome).Inc()
		m.metrics.StreamDuration.Observe(time.Since(start).Seconds())
	}()

	roleEmitted := false
	terminalSent := false
	for chunk, err := range stream {
		if err != nil {
			m.logger.Error("Error from upstream stream", slog.String(errLoggerKey, err.Error()))
			m.writeFrame(w, flusher, models.ErrorFrame(err.Error()))
			outcome = "failed"
			return
		}

		if chunk.Role != "" && !roleEmitted {
			if !m.writeFrame(w, flusher, models.RoleFrame(chunk.Role)) {
				outcome = "disconnected"
				return
			}
			roleEmitted = true
		}

		if chunk.Content != "" {
			if !m.writeFrame(w, flusher, models.ContentFrame(chunk.Content)) {
				outcome = "disconnected"
				return
			}
		}

		if chunk.FinishReason != "" {
			if !m.writeFrame(w, flusher, models.TerminalFrame(chunk.FinishReason)) {
				outcome = "disconnected"
				return
			}
			terminalSent = true
			break
		}
	}

	if !terminalSent {
		if !m.writeFrame(w, flusher, models.TerminalFrame("")) {
			outcome = "disconnected"
		}
	}
}

// writeFrame serializes one frame as a server-sent event and flushes it immediately. Write
// failures mean the caller closed the connection, so they are swallowed; the false return tells
// the relay to stop pulling upstream chunks.
func (m Main) writeFrame(w http.ResponseWriter, flusher http.Flusher, frame models.StreamFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error("Failed to marshal frame", slog.String(errLoggerKey, err.Error()))
		return false
	}

	msg := sse.Message{}
	msg.AppendData(string(data))

	if _, err := msg.WriteTo(w); err != nil {
		m.logger.Debug("Frame write failed", slog.String(errLoggerKey, err.Error()))
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}

	m.metrics.FramesTotal.WithLabelValues(frame.Kind()).Inc()
	return true
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

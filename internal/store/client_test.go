package store_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/FutureExcited/grok-desktop/internal/store"
)

func sseHandler(t *testing.T, frames []models.StreamFrame) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("relay called with method %s, want POST", r.Method)
		}

		var req models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode relay request: %v", err)
		}
		if len(req.Messages) == 0 {
			t.Error("relay request has no messages")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			data, err := json.Marshal(frame)
			if err != nil {
				t.Errorf("failed to marshal frame: %v", err)
				return
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func TestRelayClientStream(t *testing.T) {
	want := []models.StreamFrame{
		models.RoleFrame("assistant"),
		models.ContentFrame("Hel"),
		models.ContentFrame("lo"),
		models.TerminalFrame("stop"),
	}

	srv := httptest.NewServer(sseHandler(t, want))
	defer srv.Close()

	client := store.NewRelayClient(srv.URL, testLogger())

	stream, err := client.Stream(context.Background(), models.ChatRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var got []models.StreamFrame
	for frame, err := range stream {
		if err != nil {
			t.Fatalf("frame error = %v", err)
		}
		got = append(got, frame)
	}

	if len(got) != len(want) {
		t.Fatalf("frames = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRelayClientStopsAfterErrorFrame(t *testing.T) {
	frames := []models.StreamFrame{
		models.ContentFrame("partial"),
		models.ErrorFrame("upstream failed"),
		models.ContentFrame("never delivered"),
	}

	srv := httptest.NewServer(sseHandler(t, frames))
	defer srv.Close()

	client := store.NewRelayClient(srv.URL, testLogger())

	stream, err := client.Stream(context.Background(), models.ChatRequest{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var got []models.StreamFrame
	for frame, err := range stream {
		if err != nil {
			t.Fatalf("frame error = %v", err)
		}
		got = append(got, frame)
	}

	if len(got) != 2 {
		t.Fatalf("frames = %d, want iteration to stop at the error frame", len(got))
	}
	if !got[1].IsError() {
		t.Errorf("last frame = %+v, want error", got[1])
	}
}

func TestRelayClientRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Invalid messages format", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := store.NewRelayClient(srv.URL, testLogger())

	_, err := client.Stream(context.Background(), models.ChatRequest{})
	if err == nil {
		t.Fatal("Stream() error = nil, want request-level failure")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("Stream() error = %v, want it to carry the status code", err)
	}
}

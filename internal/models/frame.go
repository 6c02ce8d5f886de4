package models

// StreamFrame is the wire unit the relay sends to its caller, serialized as the JSON payload of
// one server-sent event. Exactly one of the four frame shapes is populated at a time: a role
// frame, a content frame, a terminal frame, or an error frame.
type StreamFrame struct {
	Role         string `json:"role,omitempty"`
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done,omitempty"`
	Error        string `json:"error,omitempty"`
	// Stack is accepted from wire peers for diagnostic detail but never populated by this
	// relay; consumers treat it as optional.
	Stack        string `json:"stack,omitempty"`
}

// RoleFrame builds the frame announcing the responder's role. The relay emits it at most once
// per stream, regardless of how often the upstream provider repeats the role marker.
func RoleFrame(role string) StreamFrame {
	return StreamFrame{Role: role}
}

// ContentFrame builds a frame carrying one content increment. Increments are always appended by
// the consumer, never replace previously received content.
func ContentFrame(content string) StreamFrame {
	return StreamFrame{Content: content}
}

// TerminalFrame builds the frame that ends a successful stream. The finish reason may be empty
// when the upstream provider's iterator ended without signaling one.
func TerminalFrame(finishReason string) StreamFrame {
	return StreamFrame{FinishReason: finishReason, Done: true}
}

// ErrorFrame builds the frame that ends a stream which failed after it was opened. No further
// frames follow it.
func ErrorFrame(message string) StreamFrame {
	return StreamFrame{Error: message}
}

// IsTerminal reports whether the frame ends the stream successfully.
func (f StreamFrame) IsTerminal() bool {
	return f.Done
}

// IsError reports whether the frame ends the stream with a mid-stream failure.
func (f StreamFrame) IsError() bool {
	return f.Error != ""
}

// Kind returns the frame shape name, used for logging and metrics labels.
func (f StreamFrame) Kind() string {
	switch {
	case f.Error != "":
		return "error"
	case f.Done:
		return "terminal"
	case f.Content != "":
		return "content"
	case f.Role != "":
		return "role"
	default:
		return "unknown"
	}
}

// Chunk is one incremental unit emitted by an upstream completion provider. A single chunk may
// carry any combination of a role marker, a content delta, and a finish reason.
type Chunk struct {
	Role         string
	Content      string
	FinishReason string
}

// UpstreamError carries the status code reported by the completion provider for failures that
// happen before any chunk is streamed. The relay propagates it as an HTTP-level error instead of
// a stream frame.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

package models

import (
	"time"
)

// Conversation represents a message thread in the chat system. Conversations are keyed by a
// caller-supplied identifier and created lazily on first reference. The draft input holds the
// text the user is composing before it is sent.
type Conversation struct {
	ID         string
	Messages   []Message
	DraftInput string
}

// Message represents an individual communication entry within a conversation. The content field
// is the only field mutated after creation, and only while the message is streaming; all other
// fields are set once when the message is appended.
type Message struct {
	ID            string
	Role          Role
	Content       string
	Timestamp     time.Time
	IsStreaming   bool
	AttachedFiles []FileInfo
}

// ChatMessage is a single role/content turn as it appears on the wire, both in the inbound
// relay request and in the upstream completion call.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message authored by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message authored by the model.
	RoleAssistant Role = "assistant"
)

// FileInfo describes a file the user attached to the conversation. Text files carry their
// content verbatim; image files carry a base64 payload instead.
type FileInfo struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Size          int64  `json:"size"`
	LastModified  int64  `json:"lastModified,omitempty"`
	IsImage       bool   `json:"isImage,omitempty"`
	Content       string `json:"content,omitempty"`
	Base64Content string `json:"base64Content,omitempty"`
}

// ContextInfo carries the feature-toggle state and attached file manifests sent alongside the
// message history on each relay request.
type ContextInfo struct {
	WebSearch  bool       `json:"webSearch"`
	DeepSearch bool       `json:"deepSearch"`
	Think      bool       `json:"think"`
	TextFiles  []FileInfo `json:"textFiles,omitempty"`
	ImageFiles []FileInfo `json:"imageFiles,omitempty"`
}

// ChatRequest is the inbound request body accepted by the relay.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	ContextInfo *ContextInfo  `json:"contextInfo,omitempty"`
}

// Package store holds the client-side conversation state: per-conversation message lists, the
// feature-toggle and history stores, and the relay client that feeds streamed frames into them.
package store

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FutureExcited/grok-desktop/internal/models"
	"github.com/google/uuid"
)

// Relay is the transport to the stream relay. Stream opens one frame sequence for one request;
// an error returned directly means the request failed before any frame arrived.
type Relay interface {
	Stream(ctx context.Context, req models.ChatRequest) (iter.Seq2[models.StreamFrame, error], error)
}

// Persister is the durable collaborator conversations are written to on mutation.
type Persister interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	SaveConversation(ctx context.Context, conv models.Conversation) error

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, conversationID string, message models.Message) error
}

// StatePersister is the key-value contract the features and history stores persist through:
// key = store name, value = serialized state tree.
type StatePersister interface {
	SaveState(ctx context.Context, name string, state any) error
	LoadState(ctx context.Context, name string, state any) (bool, error)
}

// Listener receives a snapshot of a message after each applied frame. Snapshots are taken under
// the manager's lock, so a listener never observes a half-applied frame.
type Listener func(conversationID string, msg models.Message)

// assistantApology replaces the assistant message's content when consuming the frame stream
// fails; the raw error is logged, never shown to the user.
const assistantApology = "I'm sorry, something went wrong while generating a response. " +
	"Please try sending your message again."

// Manager owns all conversations, keyed by their caller-supplied identifier. Message lists are
// append-only except for the in-place content and flag mutation of the trailing streaming
// message, and at most one assistant message per conversation is streaming at a time.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	busy          map[string]bool
	listeners     map[string]map[int]Listener
	nextListener  int

	relay    Relay
	features *Features
	persist  Persister

	logger *slog.Logger
}

// NewManager creates a new Manager wired to the given relay, features store, and persister.
func NewManager(relay Relay, features *Features, persist Persister, logger *slog.Logger) *Manager {
	return &Manager{
		conversations: make(map[string]*models.Conversation),
		busy:          make(map[string]bool),
		listeners:     make(map[string]map[int]Listener),
		relay:         relay,
		features:      features,
		persist:       persist,
		logger:        logger.With(slog.String("module", "store")),
	}
}

// Load restores all persisted conversations into memory. Messages come back with their
// streaming flags already normalized, since no stream survives a restart.
func (m *Manager) Load(ctx context.Context) error {
	conversations, err := m.persist.Conversations(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conv := range conversations {
		messages, err := m.persist.Messages(ctx, conv.ID)
		if err != nil {
			return err
		}
		conv.Messages = messages
		c := conv
		m.conversations[conv.ID] = &c
	}
	return nil
}

// InitConversation returns the conversation with the given ID, creating it first if it does not
// exist. The call is idempotent: an existing conversation is returned unchanged and the first
// message, if any, is not re-sent. On creation a non-empty firstMessage is submitted through
// SendMessage immediately.
func (m *Manager) InitConversation(ctx context.Context, id, firstMessage string) models.Conversation {
	m.mu.Lock()
	if conv, ok := m.conversations[id]; ok {
		snapshot := snapshotConversation(conv)
		m.mu.Unlock()
		return snapshot
	}

	conv := &models.Conversation{ID: id}
	m.conversations[id] = conv
	m.mu.Unlock()

	if err := m.persist.SaveConversation(ctx, *conv); err != nil {
		m.logger.Error("Failed to persist conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}

	if firstMessage != "" {
		m.SendMessage(ctx, id, firstMessage)
	}

	m.mu.Lock()
	snapshot := snapshotConversation(m.conversations[id])
	m.mu.Unlock()
	return snapshot
}

// Conversation returns a snapshot of the conversation with the given ID.
func (m *Manager) Conversation(id string) (models.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return snapshotConversation(conv), true
}

// SendMessage submits one user message and streams the assistant's reply into the conversation.
// The message text is the explicit content argument, or the conversation's draft input when the
// argument is empty. The call is a logged no-op when the conversation does not exist, the
// resolved text is blank, or another send for the same conversation is still streaming.
//
// On success it appends the user message with the currently staged attachments, clears the
// draft, appends a streaming assistant placeholder, and issues one relay request carrying the
// history minus any still-streaming message plus the current feature-toggle context. Each
// content frame is appended to the placeholder and published to subscribers before the next
// frame is pulled; the terminal or error frame finalizes the placeholder and ends the
// subscription.
func (m *Manager) SendMessage(ctx context.Context, id, content string) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Conversation not found", slog.String("conversationID", id))
		return
	}

	text := content
	if text == "" {
		text = conv.DraftInput
	}
	if strings.TrimSpace(text) == "" {
		m.mu.Unlock()
		m.logger.Warn("Message text is empty", slog.String("conversationID", id))
		return
	}

	if m.busy[id] {
		m.mu.Unlock()
		m.logger.Warn("Conversation is already streaming", slog.String("conversationID", id))
		return
	}
	m.busy[id] = true
	defer func() {
		m.mu.Lock()
		delete(m.busy, id)
		m.mu.Unlock()
	}()

	now := time.Now()
	userMsg := models.Message{
		ID:            uuid.New().String(),
		Role:          models.RoleUser,
		Content:       text,
		Timestamp:     now,
		AttachedFiles: m.features.AttachedFiles(),
	}
	conv.Messages = append(conv.Messages, userMsg)
	conv.DraftInput = ""
	userIdx := len(conv.Messages) - 1

	assistantMsg := models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleAssistant,
		Timestamp:   now,
		IsStreaming: true,
	}
	conv.Messages = append(conv.Messages, assistantMsg)
	assistantIdx := len(conv.Messages) - 1

	// The in-flight placeholder must not be part of the history sent upstream.
	history := make([]models.ChatMessage, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.IsStreaming {
			continue
		}
		history = append(history, models.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	convSnapshot := *conv
	convSnapshot.Messages = nil
	m.mu.Unlock()

	if err := m.persist.SaveConversation(ctx, convSnapshot); err != nil {
		m.logger.Error("Failed to persist conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}
	m.persistNewMessage(ctx, id, userIdx)
	m.persistNewMessage(ctx, id, assistantIdx)

	req := models.ChatRequest{
		Messages:    history,
		ContextInfo: m.features.ContextInfo(),
	}

	stream, err := m.relay.Stream(ctx, req)
	if err != nil {
		m.logger.Error("Failed to open relay stream",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		m.finalizeMessage(ctx, id, assistantIdx, assistantApology)
		return
	}

	finalized := false
	for frame, err := range stream {
		if err != nil {
			m.logger.Error("Error consuming frame stream",
				slog.String("conversationID", id),
				slog.String(errLoggerKey, err.Error()))
			m.finalizeMessage(ctx, id, assistantIdx, assistantApology)
			finalized = true
			break
		}

		switch {
		case frame.IsError():
			m.logger.Error("Relay reported stream error",
				slog.String("conversationID", id),
				slog.String(errLoggerKey, frame.Error))
			m.finalizeMessage(ctx, id, assistantIdx, assistantApology)
			finalized = true
		case frame.IsTerminal():
			m.finalizeMessage(ctx, id, assistantIdx, "")
			finalized = true
		case frame.Content != "":
			m.appendContent(ctx, id, assistantIdx, frame.Content)
		}

		// Stopping the pull after the terminal frame releases the subscription.
		if finalized {
			break
		}
	}

	if !finalized {
		// The transport closed without a terminal frame; synthesize the finalization.
		m.finalizeMessage(ctx, id, assistantIdx, "")
	}
}

// EditMessage sets the conversation's draft input verbatim. No validation is performed; editing
// a missing conversation is a no-op.
func (m *Manager) EditMessage(ctx context.Context, id, content string) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	conv.DraftInput = content
	snapshot := *conv
	snapshot.Messages = nil
	m.mu.Unlock()

	if err := m.persist.SaveConversation(ctx, snapshot); err != nil {
		m.logger.Error("Failed to persist conversation",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}
}

// RegenerateMessage re-sends the most recent user message's original content, appending a new
// assistant response after the existing history. A conversation with no user message is left
// untouched.
func (m *Manager) RegenerateMessage(ctx context.Context, id string) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("Conversation not found", slog.String("conversationID", id))
		return
	}

	content := ""
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == models.RoleUser {
			content = conv.Messages[i].Content
			break
		}
	}
	m.mu.Unlock()

	if content == "" {
		m.logger.Warn("No user message to regenerate", slog.String("conversationID", id))
		return
	}

	m.SendMessage(ctx, id, content)
}

// Subscribe registers a listener for message updates on one conversation and returns its
// unsubscribe handle.
func (m *Manager) Subscribe(id string, fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listeners[id] == nil {
		m.listeners[id] = make(map[int]Listener)
	}
	token := m.nextListener
	m.nextListener++
	m.listeners[id][token] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners[id], token)
	}
}

const errLoggerKey = "err"

// persistNewMessage writes the message at idx and adopts the sequence-prefixed ID the persister
// assigned, so later in-place updates address the same record.
func (m *Manager) persistNewMessage(ctx context.Context, id string, idx int) {
	m.mu.Lock()
	msg := m.conversations[id].Messages[idx]
	m.mu.Unlock()

	newID, err := m.persist.AddMessage(ctx, id, msg)
	if err != nil {
		m.logger.Error("Failed to persist message",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.mu.Lock()
	m.conversations[id].Messages[idx].ID = newID
	m.mu.Unlock()
}

func (m *Manager) appendContent(ctx context.Context, id string, idx int, content string) {
	m.mu.Lock()
	msg := &m.conversations[id].Messages[idx]
	msg.Content += content
	snapshot := *msg
	m.mu.Unlock()

	if err := m.persist.UpdateMessage(ctx, id, snapshot); err != nil {
		m.logger.Error("Failed to persist message",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}
	m.notify(id, snapshot)
}

// finalizeMessage clears the streaming flag and refreshes the timestamp of the message at idx.
// A non-empty replacement overwrites the accumulated content (the error path).
func (m *Manager) finalizeMessage(ctx context.Context, id string, idx int, replacement string) {
	m.mu.Lock()
	msg := &m.conversations[id].Messages[idx]
	if replacement != "" {
		msg.Content = replacement
	}
	msg.IsStreaming = false
	msg.Timestamp = time.Now()
	snapshot := *msg
	m.mu.Unlock()

	if err := m.persist.UpdateMessage(ctx, id, snapshot); err != nil {
		m.logger.Error("Failed to persist message",
			slog.String("conversationID", id),
			slog.String(errLoggerKey, err.Error()))
	}
	m.notify(id, snapshot)
}

func (m *Manager) notify(id string, msg models.Message) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners[id]))
	for _, fn := range m.listeners[id] {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(id, msg)
	}
}

func snapshotConversation(conv *models.Conversation) models.Conversation {
	snapshot := *conv
	snapshot.Messages = make([]models.Message, len(conv.Messages))
	copy(snapshot.Messages, conv.Messages)
	return snapshot
}

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const historyStateName = "history"

// HistoryItem is one entry in the conversation history list.
type HistoryItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Timestamp   time.Time `json:"timestamp"`
	IsCurrent   bool      `json:"isCurrent,omitempty"`
	IsTemporary bool      `json:"isTemporary,omitempty"`
}

// History holds the ordered list of past conversations, newest first.
type History struct {
	mu    sync.Mutex
	items []HistoryItem

	persist StatePersister

	logger *slog.Logger
}

// NewHistory creates an empty history store.
func NewHistory(persist StatePersister, logger *slog.Logger) *History {
	return &History{
		persist: persist,
		logger:  logger.With(slog.String("module", "history")),
	}
}

// Load restores the persisted history list.
func (h *History) Load(ctx context.Context) error {
	var items []HistoryItem
	found, err := h.persist.LoadState(ctx, historyStateName, &items)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	h.mu.Lock()
	h.items = items
	h.mu.Unlock()
	return nil
}

// Add prepends a new history item with a fresh ID and timestamp and returns it.
func (h *History) Add(ctx context.Context, title string, temporary bool) HistoryItem {
	item := HistoryItem{
		ID:          uuid.New().String(),
		Title:       title,
		Timestamp:   time.Now(),
		IsTemporary: temporary,
	}

	h.mu.Lock()
	h.items = append([]HistoryItem{item}, h.items...)
	h.mu.Unlock()

	h.save(ctx)
	return item
}

// SetCurrent marks the item with the given ID as the current conversation and clears the flag
// on every other item.
func (h *History) SetCurrent(ctx context.Context, id string) {
	h.mu.Lock()
	for i := range h.items {
		h.items[i].IsCurrent = h.items[i].ID == id
	}
	h.mu.Unlock()

	h.save(ctx)
}

// Remove deletes the item with the given ID.
func (h *History) Remove(ctx context.Context, id string) {
	h.mu.Lock()
	kept := h.items[:0]
	for _, item := range h.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	h.items = kept
	h.mu.Unlock()

	h.save(ctx)
}

// Items returns a copy of the full history list.
func (h *History) Items() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]HistoryItem, len(h.items))
	copy(items, h.items)
	return items
}

// TodayItems returns the items dated on or after local midnight.
func (h *History) TodayItems() []HistoryItem {
	today := startOfDay(time.Now())

	var items []HistoryItem
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, item := range h.items {
		if !item.Timestamp.Before(today) {
			items = append(items, item)
		}
	}
	return items
}

// YesterdayItems returns the items dated within the day before local midnight.
func (h *History) YesterdayItems() []HistoryItem {
	today := startOfDay(time.Now())
	yesterday := today.AddDate(0, 0, -1)

	var items []HistoryItem
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, item := range h.items {
		if !item.Timestamp.Before(yesterday) && item.Timestamp.Before(today) {
			items = append(items, item)
		}
	}
	return items
}

func (h *History) save(ctx context.Context) {
	h.mu.Lock()
	items := make([]HistoryItem, len(h.items))
	copy(items, h.items)
	h.mu.Unlock()

	if err := h.persist.SaveState(ctx, historyStateName, items); err != nil {
		h.logger.Error("Failed to persist history state", slog.String(errLoggerKey, err.Error()))
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

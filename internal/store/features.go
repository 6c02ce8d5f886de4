package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FutureExcited/grok-desktop/internal/models"
)

const featuresStateName = "features"

// featuresState is the serialized state tree the features store persists under its store name.
type featuresState struct {
	SearchEnabled     bool              `json:"searchEnabled"`
	DeepSearchEnabled bool              `json:"deepSearchEnabled"`
	ThinkEnabled      bool              `json:"thinkEnabled"`
	AttachedFiles     []models.FileInfo `json:"attachedFiles"`
}

// Features holds the feature toggles and the files staged for the next message. The store does
// not own attachment capture; callers hand it fully read file payloads.
type Features struct {
	mu    sync.Mutex
	state featuresState

	persist StatePersister

	logger *slog.Logger
}

// NewFeatures creates a features store with its defaults: web search enabled, deep search and
// think disabled, no staged files.
func NewFeatures(persist StatePersister, logger *slog.Logger) *Features {
	return &Features{
		state:   featuresState{SearchEnabled: true},
		persist: persist,
		logger:  logger.With(slog.String("module", "features")),
	}
}

// Load restores the persisted state tree, keeping the defaults when none was stored.
func (f *Features) Load(ctx context.Context) error {
	var state featuresState
	found, err := f.persist.LoadState(ctx, featuresStateName, &state)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	return nil
}

// ToggleSearch flips the web-search flag and returns the new value.
func (f *Features) ToggleSearch(ctx context.Context) bool {
	f.mu.Lock()
	f.state.SearchEnabled = !f.state.SearchEnabled
	enabled := f.state.SearchEnabled
	f.mu.Unlock()

	f.save(ctx)
	return enabled
}

// ToggleDeepSearch flips the deep-search flag and returns the new value.
func (f *Features) ToggleDeepSearch(ctx context.Context) bool {
	f.mu.Lock()
	f.state.DeepSearchEnabled = !f.state.DeepSearchEnabled
	enabled := f.state.DeepSearchEnabled
	f.mu.Unlock()

	f.save(ctx)
	return enabled
}

// ToggleThink flips the think flag and returns the new value.
func (f *Features) ToggleThink(ctx context.Context) bool {
	f.mu.Lock()
	f.state.ThinkEnabled = !f.state.ThinkEnabled
	enabled := f.state.ThinkEnabled
	f.mu.Unlock()

	f.save(ctx)
	return enabled
}

// AddTextFile stages a text attachment with its content read verbatim.
func (f *Features) AddTextFile(ctx context.Context, name, mimeType string, size int64, content string) {
	f.addFile(ctx, models.FileInfo{
		Name:         name,
		Type:         mimeType,
		Size:         size,
		LastModified: time.Now().UnixMilli(),
		Content:      content,
	})
}

// AddImageFile stages an image attachment with its base64 payload.
func (f *Features) AddImageFile(ctx context.Context, name, mimeType string, size int64, base64Content string) {
	f.addFile(ctx, models.FileInfo{
		Name:          name,
		Type:          mimeType,
		Size:          size,
		LastModified:  time.Now().UnixMilli(),
		IsImage:       true,
		Base64Content: base64Content,
	})
}

func (f *Features) addFile(ctx context.Context, file models.FileInfo) {
	if !file.IsImage && strings.HasPrefix(file.Type, "image/") {
		file.IsImage = true
	}

	f.mu.Lock()
	f.state.AttachedFiles = append(f.state.AttachedFiles, file)
	f.mu.Unlock()

	f.save(ctx)
}

// RemoveFile removes all staged files with the given name.
func (f *Features) RemoveFile(ctx context.Context, name string) {
	f.mu.Lock()
	kept := f.state.AttachedFiles[:0]
	for _, file := range f.state.AttachedFiles {
		if file.Name != name {
			kept = append(kept, file)
		}
	}
	f.state.AttachedFiles = kept
	f.mu.Unlock()

	f.save(ctx)
}

// ClearFiles removes all staged files.
func (f *Features) ClearFiles(ctx context.Context) {
	f.mu.Lock()
	f.state.AttachedFiles = nil
	f.mu.Unlock()

	f.save(ctx)
}

// AttachedFiles returns a copy of the staged file list.
func (f *Features) AttachedFiles() []models.FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.state.AttachedFiles) == 0 {
		return nil
	}
	files := make([]models.FileInfo, len(f.state.AttachedFiles))
	copy(files, f.state.AttachedFiles)
	return files
}

// SearchEnabled reports the web-search flag.
func (f *Features) SearchEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.SearchEnabled
}

// DeepSearchEnabled reports the deep-search flag.
func (f *Features) DeepSearchEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.DeepSearchEnabled
}

// ThinkEnabled reports the think flag.
func (f *Features) ThinkEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.ThinkEnabled
}

// ContextInfo builds the context block sent with each relay request: the toggle flags plus the
// staged files split into text and image manifests.
func (f *Features) ContextInfo() *models.ContextInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	info := &models.ContextInfo{
		WebSearch:  f.state.SearchEnabled,
		DeepSearch: f.state.DeepSearchEnabled,
		Think:      f.state.ThinkEnabled,
	}
	for _, file := range f.state.AttachedFiles {
		if file.IsImage {
			info.ImageFiles = append(info.ImageFiles, file)
		} else {
			info.TextFiles = append(info.TextFiles, file)
		}
	}
	return info
}

func (f *Features) save(ctx context.Context) {
	f.mu.Lock()
	state := f.state
	state.AttachedFiles = append([]models.FileInfo(nil), f.state.AttachedFiles...)
	f.mu.Unlock()

	if err := f.persist.SaveState(ctx, featuresStateName, state); err != nil {
		f.logger.Error("Failed to persist features state", slog.String(errLoggerKey, err.Error()))
	}
}

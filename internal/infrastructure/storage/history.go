package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// HistoryFile stores the history as one JSON document
type HistoryFile struct {
	path string
	mu   sync.Mutex
}

// NewHistoryFile creates a history repository backed by path
func NewHistoryFile(path string) *HistoryFile {
	return &HistoryFile{path: path}
}

// Load reads the history. A missing file is an empty history.
func (h *HistoryFile) Load(ctx context.Context) (*domain.History, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &domain.History{Entries: []domain.HistoryEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var history domain.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if history.Entries == nil {
		history.Entries = []domain.HistoryEntry{}
	}
	return &history, nil
}

// Save writes the history through a temp file and rename
func (h *HistoryFile) Save(ctx context.Context, history *domain.History) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename history: %w", err)
	}
	return nil
}

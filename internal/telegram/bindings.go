package telegram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Bindings remembers which session each Telegram chat is talking to.
type Bindings interface {
	Lookup(chatID int64) (string, bool, error)
	Bind(chatID int64, sessionID string) error
}

// FileBindings keeps the chat to session map in a single JSON object file.
type FileBindings struct {
	path string
	mu   sync.Mutex
}

func NewFileBindings(path string) (*FileBindings, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileBindings{path: path}, nil
}

func (b *FileBindings) Lookup(chatID int64) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.loadUnlocked()
	if err != nil {
		return "", false, err
	}
	id, ok := m[strconv.FormatInt(chatID, 10)]
	return id, ok, nil
}

func (b *FileBindings) Bind(chatID int64, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.loadUnlocked()
	if err != nil {
		return err
	}
	m[strconv.FormatInt(chatID, 10)] = sessionID
	return b.saveUnlocked(m)
}

// loadUnlocked treats an empty file as an empty map.
func (b *FileBindings) loadUnlocked() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	m := make(map[string]string)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse bindings: %w", err)
	}
	return m, nil
}

func (b *FileBindings) saveUnlocked(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write bindings: %w", err)
	}
	return os.Rename(tmp, b.path)
}

// MemoryBindings is used when no bindings file is configured.
type MemoryBindings struct {
	mu sync.Mutex
	m  map[int64]string
}

func NewMemoryBindings() *MemoryBindings {
	return &MemoryBindings{m: make(map[int64]string)}
}

func (b *MemoryBindings) Lookup(chatID int64) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.m[chatID]
	return id, ok, nil
}

func (b *MemoryBindings) Bind(chatID int64, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[chatID] = sessionID
	return nil
}

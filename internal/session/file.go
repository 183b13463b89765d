package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRepository keeps one JSON document per session under dir. Writes go to a
// temporary file that is renamed over the old document, so readers never see a
// partial session. Writers, including other processes using the same dir,
// serialize on dir/.lock.
type FileRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure session dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(id string) (string, bool) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", false
	}
	return filepath.Join(r.dir, id+".json"), true
}

func (r *FileRepository) Load(_ context.Context, id string) (Session, error) {
	p, ok := r.path(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadUnlocked(p)
}

func (r *FileRepository) loadUnlocked(p string) (Session, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", filepath.Base(p), err)
	}
	return s.Clone(), nil
}

func (r *FileRepository) lockDir(ctx context.Context) (func(), error) {
	return lockFile(ctx, filepath.Join(r.dir, ".lock"))
}

func (r *FileRepository) Save(ctx context.Context, s Session) error {
	p, ok := r.path(s.ID)
	if !ok {
		return fmt.Errorf("invalid session id %q", s.ID)
	}
	s = s.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lockDir(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var stored *Session
	cur, err := r.loadUnlocked(p)
	switch {
	case err == nil:
		stored = &cur
	case !errors.Is(err, ErrNotFound):
		return err
	}
	write, err := checkRevision(stored, s)
	if err != nil || !write {
		return err
	}

	f, err := os.CreateTemp(r.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode session: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	p, ok := r.path(id)
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lockDir(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (r *FileRepository) IDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsUnlocked()
}

func (r *FileRepository) idsUnlocked() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *FileRepository) DeleteIdle(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	unlock, err := r.lockDir(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	ids, err := r.idsUnlocked()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		p, _ := r.path(id)
		s, err := r.loadUnlocked(p)
		if err != nil {
			continue
		}
		if !s.UpdatedAt.Before(before) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, fmt.Errorf("remove session: %w", err)
		}
		n++
	}
	return n, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Policy decides what Get does with an unknown session id.
type Policy int

const (
	// PolicyStrict fails lookups of unknown ids with ErrNotFound.
	PolicyStrict Policy = iota
	// PolicyAutoCreate hands out a blank session for an unknown id. The blank
	// session is stored by the first exchange that saves it.
	PolicyAutoCreate
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "strict":
		return PolicyStrict, nil
	case "autocreate":
		return PolicyAutoCreate, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown session lookup policy %q", s)
	}
}

func (p Policy) String() string {
	if p == PolicyAutoCreate {
		return "autocreate"
	}
	return "strict"
}

// Manager is the session store used by the exchange orchestrator. It owns id
// generation, the lookup policy and per-session locking on top of a
// Repository.
type Manager struct {
	repo   Repository
	policy Policy
	locks  *keyedLocker
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewManager(repo Repository, policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		policy: policy,
		locks:  newKeyedLocker(),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (m *Manager) Policy() Policy { return m.policy }

// Create stores an empty session under a fresh random id.
func (m *Manager) Create(ctx context.Context, kind string) (string, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		id := m.newID()
		_, err := m.repo.Load(ctx, id)
		if err == nil {
			m.logger.Warn("session id collision, regenerating", "session_id", id)
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("check session id: %w", err)
		}
		now := m.now().UTC()
		s := Session{ID: id, Version: 1, Kind: kind, History: []Turn{}, CreatedAt: now, UpdatedAt: now}
		err = m.repo.Save(ctx, s)
		if errors.Is(err, ErrConflict) {
			m.logger.Warn("session id taken by another writer, regenerating", "session_id", id)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("store new session: %w", err)
		}
		m.logger.Info("session created", "session_id", id, "kind", kind)
		return id, nil
	}
	return "", fmt.Errorf("could not allocate a unique session id after %d attempts", attempts)
}

// Get loads a session, applying the lookup policy to unknown ids.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	s, err := m.repo.Load(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) || m.policy != PolicyAutoCreate || id == "" {
		return Session{}, err
	}
	m.logger.Warn("unknown session id, starting a blank session", "session_id", id, "policy", m.policy.String())
	now := m.now().UTC()
	return Session{ID: id, History: []Turn{}, CreatedAt: now, UpdatedAt: now}, nil
}

// Save stores s as the revision following the one it was loaded at. It fails
// with ErrConflict when another writer, possibly another process, saved the
// session in between. Saving the same value twice leaves the store as after
// the first call.
func (m *Manager) Save(ctx context.Context, s Session) error {
	s.Version++
	if err := m.repo.Save(ctx, s); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Lock grants exclusive access to one session until the returned func is
// called. It gives up when ctx is done.
func (m *Manager) Lock(ctx context.Context, id string) (func(), error) {
	return m.locks.lock(ctx, id)
}

func (m *Manager) IDs(ctx context.Context) ([]string, error) {
	return m.repo.IDs(ctx)
}

// Expire removes sessions that have been idle for longer than ttl.
func (m *Manager) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	n, err := m.repo.DeleteIdle(ctx, m.now().Add(-ttl))
	if err != nil {
		return n, fmt.Errorf("expire sessions: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired idle sessions", "count", n, "ttl", ttl)
	}
	return n, nil
}

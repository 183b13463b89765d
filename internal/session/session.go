// Package session owns conversation sessions: their turn history, rolling
// summary and persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a session id is absent from the store.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Save when another writer stored a newer
	// revision since the session was loaded.
	ErrConflict = errors.New("session modified concurrently")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the human-readable speaker name used in transcripts.
func (r Role) Label() string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

// Turn is one message of the conversation. Turns are appended or discarded
// wholesale, never edited.
type Turn struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
}

// Session is a persisted conversation. Summary condenses every turn older than
// History[0]; no turn is represented in both. Version counts stored revisions;
// a loaded session carries the revision it was read at.
type Session struct {
	ID        string    `json:"session_id" bson:"session_id"`
	Version   int64     `json:"version" bson:"version"`
	Kind      string    `json:"kind,omitempty" bson:"kind,omitempty"`
	History   []Turn    `json:"history" bson:"history"`
	Summary   string    `json:"summary" bson:"summary"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a copy whose history can be modified independently.
func (s Session) Clone() Session {
	s.History = slices.Clone(s.History)
	if s.History == nil {
		s.History = []Turn{}
	}
	return s
}

// Append adds a completed exchange to the history.
func (s *Session) Append(question, answer string) {
	s.History = append(s.History,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer},
	)
}

// Repository persists sessions as whole documents. Implementations must be
// safe for concurrent use, including by other processes sharing the store.
type Repository interface {
	// Load returns ErrNotFound when id is unknown.
	Load(ctx context.Context, id string) (Session, error)
	// Save stores s as revision s.Version. It replaces revision s.Version-1,
	// creates the document when s.Version is 1 and none exists, and leaves an
	// identical stored revision untouched. Anything else is ErrConflict.
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
	// DeleteIdle removes sessions not updated since before and reports how many
	// were removed.
	DeleteIdle(ctx context.Context, before time.Time) (int, error)
}

// checkRevision decides whether s may replace stored (nil when absent). write
// is false when the identical revision is already stored.
func checkRevision(stored *Session, s Session) (write bool, err error) {
	switch {
	case s.Version < 1:
		return false, fmt.Errorf("session %s: invalid revision %d", s.ID, s.Version)
	case stored == nil:
		if s.Version == 1 {
			return true, nil
		}
	case stored.Version == s.Version-1:
		return true, nil
	case stored.Version == s.Version && sameContent(*stored, s):
		return false, nil
	}
	return false, ErrConflict
}

func sameContent(a, b Session) bool {
	return a.Kind == b.Kind &&
		a.Summary == b.Summary &&
		slices.Equal(a.History, b.History) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

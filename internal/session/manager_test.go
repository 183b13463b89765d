package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManager_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, PolicyStrict, nil)
	ctx := context.Background()

	id, err := m.Create(ctx, "quiz_solving")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatalf("empty id")
	}
	s, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(s.History) != 0 || s.Summary != "" || s.Kind != "quiz_solving" {
		t.Fatalf("new session not empty: %+v", s)
	}

	other, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("create2: %v", err)
	}
	if other == id {
		t.Fatalf("ids reused: %s", id)
	}
}

func TestManager_CreateRegeneratesOnCollision(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, PolicyStrict, nil)
	ctx := context.Background()
	_ = repo.Save(ctx, Session{ID: "taken", Version: 1})

	ids := []string{"taken", "fresh"}
	m.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	id, err := m.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "fresh" {
		t.Fatalf("want regenerated id, got %q", id)
	}
}

func TestManager_StrictPolicyNotFound(t *testing.T) {
	m := NewManager(NewMemoryRepository(), PolicyStrict, nil)
	if _, err := m.Get(context.Background(), "never-created"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestManager_AutoCreateDoesNotPersistOnLookup(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, PolicyAutoCreate, nil)
	ctx := context.Background()

	s, err := m.Get(ctx, "client-chosen")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.ID != "client-chosen" || len(s.History) != 0 {
		t.Fatalf("unexpected blank session: %+v", s)
	}
	if _, err := repo.Load(ctx, "client-chosen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup must not persist, got %v", err)
	}
}

func TestManager_SaveIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, PolicyStrict, nil)
	ctx := context.Background()
	id, err := m.Create(ctx, "general")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s, _ := m.Get(ctx, id)
	s.Append("q", "a")

	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save1: %v", err)
	}
	first, _ := repo.Load(ctx, id)
	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save2: %v", err)
	}
	second, _ := repo.Load(ctx, id)
	if first.Version != 2 || second.Version != 2 || !sameContent(first, second) {
		t.Fatalf("second save changed the store: %+v vs %+v", first, second)
	}
}

// Two managers over one repository behave like two processes sharing a
// store: their in-process locks do not see each other, the revision check
// does.
func TestManager_DetectsWriterOutsideProcess(t *testing.T) {
	repo := NewMemoryRepository()
	serve := NewManager(repo, PolicyStrict, nil)
	tools := NewManager(repo, PolicyStrict, nil)
	ctx := context.Background()
	id, err := serve.Create(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := serve.Get(ctx, id)
	b, _ := tools.Get(ctx, id)
	a.Append("first", "one")
	b.Append("second", "two")
	if err := serve.Save(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := tools.Save(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	got, _ := tools.Get(ctx, id)
	if len(got.History) != 2 || got.History[0].Content != "first" {
		t.Fatalf("unexpected stored history %+v", got.History)
	}
}

func TestManager_Expire(t *testing.T) {
	repo := NewMemoryRepository()
	m := NewManager(repo, PolicyStrict, nil)
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	_ = repo.Save(ctx, Session{ID: "old", Version: 1, UpdatedAt: now.Add(-25 * time.Hour)})
	_ = repo.Save(ctx, Session{ID: "new", Version: 1, UpdatedAt: now.Add(-time.Hour)})

	if n, _ := m.Expire(ctx, 0); n != 0 {
		t.Fatalf("zero ttl must disable expiry, removed %d", n)
	}
	n, err := m.Expire(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 expired, got %d", n)
	}
	ids, _ := m.IDs(ctx)
	if len(ids) != 1 || ids[0] != "new" {
		t.Fatalf("unexpected remaining ids: %v", ids)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("autocreate"); err != nil || p != PolicyAutoCreate {
		t.Fatalf("autocreate: %v %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyStrict {
		t.Fatalf("default: %v %v", p, err)
	}
	if _, err := ParsePolicy("lenient"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLocker_SerializesSameKey(t *testing.T) {
	l := newKeyedLocker()
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.lock(ctx, "s")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("want at most one holder, saw %d", maxActive)
	}
	if l.size() != 0 {
		t.Fatalf("lock entries leaked: %d", l.size())
	}
}

func TestLocker_RespectsContext(t *testing.T) {
	l := newKeyedLocker()
	unlock, err := l.lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.lock(ctx, "s"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	// unrelated keys never contend
	other, err := l.lock(context.Background(), "t")
	if err != nil {
		t.Fatalf("other key blocked: %v", err)
	}
	other()
	unlock()
	unlock()
	if l.size() != 0 {
		t.Fatalf("lock entries leaked: %d", l.size())
	}
}

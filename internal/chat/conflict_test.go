package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"edulearn/internal/compaction"
	"edulearn/internal/prompt"
	"edulearn/internal/session"
)

// interleavingRepo lets another writer save a revision right before the
// next armed Save, or rejects every armed Save when always is set.
type interleavingRepo struct {
	session.Repository
	mu     sync.Mutex
	armed  bool
	always bool
	saves  int
}

func (r *interleavingRepo) Save(ctx context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return r.Repository.Save(ctx, s)
	}
	r.saves++
	if r.always {
		return session.ErrConflict
	}
	r.armed = false
	other, err := r.Repository.Load(ctx, s.ID)
	if err != nil {
		return err
	}
	other.Append("asked elsewhere", "answered elsewhere")
	other.Version++
	if err := r.Repository.Save(ctx, other); err != nil {
		return err
	}
	return r.Repository.Save(ctx, s)
}

func newServiceOver(t *testing.T, repo session.Repository, threshold int, gen *fakeGen) *Service {
	t.Helper()
	comp, err := compaction.New(compaction.Config{Threshold: threshold}, &fakeSummarizer{content: "earlier talk"}, nil, nil)
	if err != nil {
		t.Fatalf("compactor: %v", err)
	}
	svc, err := New(Options{
		Sessions:  session.NewManager(repo, session.PolicyStrict, nil),
		Compactor: comp,
		Generator: gen,
		Prompts:   prompt.NewCatalog(prompt.General),
		Timeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

// Two services over one session directory behave like the HTTP server and the
// MCP tool server running as separate processes.
func TestAsk_TwoServicesOverOneStoreKeepBothExchanges(t *testing.T) {
	dir := t.TempDir()
	repo, err := session.NewFileRepository(dir)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	other, err := session.NewFileRepository(dir)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	serve := newServiceOver(t, repo, 1000, &fakeGen{chunks: []string{"from serve"}})
	tools := newServiceOver(t, other, 1000, &fakeGen{chunks: []string{"from tools"}})
	id, err := serve.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i, svc := range []*Service{serve, tools} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			<-start
			_, err := svc.Ask(context.Background(), id, fmt.Sprintf("question %d", i))
			errs <- err
		}(i, svc)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ask: %v", err)
		}
	}

	s, err := repo.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.History) != 4 {
		t.Fatalf("want 4 turns from both exchanges, got %d", len(s.History))
	}
	if s.Version != 3 {
		t.Fatalf("want revision 3, got %d", s.Version)
	}
}

func TestAsk_ReplaysExchangeOnConcurrentSave(t *testing.T) {
	repo := &interleavingRepo{Repository: session.NewMemoryRepository()}
	svc := newServiceOver(t, repo, 2, &fakeGen{chunks: []string{"mine"}})
	ctx := context.Background()
	id, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Ask(ctx, id, "first"); err != nil {
		t.Fatalf("first ask: %v", err)
	}

	// The second exchange compacts, then loses the race to another writer.
	repo.armed = true
	ans, err := svc.Ask(ctx, id, "second")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Compacted || ans.Text != "mine" {
		t.Fatalf("unexpected answer %+v", ans)
	}
	s, _ := repo.Load(ctx, id)
	want := []string{"first", "mine", "asked elsewhere", "answered elsewhere", "second", "mine"}
	if len(s.History) != len(want) {
		t.Fatalf("want %d turns, got %+v", len(want), s.History)
	}
	for i, w := range want {
		if s.History[i].Content != w {
			t.Fatalf("turn %d: want %q, got %q", i, w, s.History[i].Content)
		}
	}
	if s.Summary != "" {
		t.Fatalf("compaction of the stale revision leaked into the store: %q", s.Summary)
	}
}

func TestAsk_PersistentConflictIsReported(t *testing.T) {
	repo := &interleavingRepo{Repository: session.NewMemoryRepository()}
	svc := newServiceOver(t, repo, 1000, &fakeGen{chunks: []string{"x"}})
	ctx := context.Background()
	id, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.armed, repo.always = true, true

	if _, err := svc.Ask(ctx, id, "hello"); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if repo.saves != commitAttempts {
		t.Fatalf("want %d save attempts, got %d", commitAttempts, repo.saves)
	}
	if s, _ := repo.Load(ctx, id); len(s.History) != 0 {
		t.Fatalf("conflicting exchange persisted")
	}
}

package session

import (
	"context"
	"sync"
)

// keyedLocker serializes exchanges per session id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type keyedLocker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{keys: make(map[string]*keyLock)}
}

func (l *keyedLocker) lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[id]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[id] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, k)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.release(id, k)
		})
	}, nil
}

func (l *keyedLocker) release(id string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, id)
	}
}

func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

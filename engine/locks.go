package engine

import "sync"

// keyedLocks serializes mutations per track id. Handlers interleave at await
// points even without parallelism, so two like toggles for the same track
// must queue here rather than race through load-mutate-persist.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{mu: sync.Mutex{}, m: make(map[string]*sync.Mutex)}
}

func (l *keyedLocks) of(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[id] = m
	return m
}

func (l *keyedLocks) forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, id)
}

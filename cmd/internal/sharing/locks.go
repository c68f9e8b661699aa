package sharing

import "sync"

// lockSet hands out one RWMutex per key and forgets it once nobody holds or
// waits for it, so the map only grows with the number of keys in use.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	rw   sync.RWMutex
	refs int
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*keyLock)}
}

func (l *lockSet) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.locks[key]
	if k == nil {
		k = &keyLock{}
		l.locks[key] = k
	}
	k.refs++
	return k
}

func (l *lockSet) release(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k.refs--
	if k.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock takes the exclusive lock for key and returns its unlock func.
func (l *lockSet) Lock(key string) func() {
	k := l.acquire(key)
	k.rw.Lock()
	return func() {
		k.rw.Unlock()
		l.release(key, k)
	}
}

// RLock takes the shared lock for key and returns its unlock func.
func (l *lockSet) RLock(key string) func() {
	k := l.acquire(key)
	k.rw.RLock()
	return func() {
		k.rw.RUnlock()
		l.release(key, k)
	}
}

// TryLock takes the exclusive lock for key only if it is free right now.
func (l *lockSet) TryLock(key string) (func(), bool) {
	k := l.acquire(key)
	if !k.rw.TryLock() {
		l.release(key, k)
		return nil, false
	}
	return func() {
		k.rw.Unlock()
		l.release(key, k)
	}, true
}

func (l *lockSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

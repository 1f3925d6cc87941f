package service

import "sync"

// emailLocks serializa operaciones por email normalizado dentro del proceso.
// Entre instancias el árbitro final es el índice único de la base.
type emailLocks struct {
	mu    sync.Mutex
	locks map[string]*emailLock
}

type emailLock struct {
	mu   sync.Mutex
	refs int
}

func newEmailLocks() *emailLocks {
	return &emailLocks{locks: make(map[string]*emailLock)}
}

// Lock bloquea key y devuelve la función que lo libera.
func (l *emailLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &emailLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *emailLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

package service

import (
	"sync"
	"testing"
)

func TestEmailLocks_SerializesSameKey(t *testing.T) {
	locks := newEmailLocks()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("ada@example.com")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if locks.size() != 0 {
		t.Fatalf("expected idle locks to be released, got %d", locks.size())
	}
}

func TestEmailLocks_IndependentKeys(t *testing.T) {
	locks := newEmailLocks()
	unlockA := locks.Lock("a@example.com")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b@example.com")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

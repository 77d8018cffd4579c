package services

import (
	"sync"
	"testing"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()

	var mu sync.Mutex
	inSection := 0
	maxInSection := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(7)
			defer unlock()

			mu.Lock()
			inSection++
			if inSection > maxInSection {
				maxInSection = inSection
			}
			mu.Unlock()

			mu.Lock()
			inSection--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxInSection != 1 {
		t.Fatalf("per-user section entered concurrently: max %d", maxInSection)
	}
}

func TestUserLocks_DifferentUsersIndependent(t *testing.T) {
	locks := newUserLocks()

	unlockA := locks.lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := locks.lock(2)
		unlockB()
		close(done)
	}()

	<-done // user 2 proceeds while user 1 is held
	unlockA()
}

func TestUserLocks_EntriesReleased(t *testing.T) {
	locks := newUserLocks()

	for i := 0; i < 10; i++ {
		unlock := locks.lock(int64(i))
		unlock()
	}

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("lock map leaked %d entries", len(locks.locks))
	}
}

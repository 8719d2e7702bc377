package keylock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	locker := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("server-1")
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("expected 100 increments, got %d", counter)
	}
	if locker.Len() != 0 {
		t.Fatalf("expected released keys to be dropped, got %d", locker.Len())
	}
}

func TestLockIndependentKeys(t *testing.T) {
	var locker Locker

	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()

	<-done
	unlockA()
}

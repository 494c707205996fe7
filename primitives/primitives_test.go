package primitives

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOneShotFiresOnce(t *testing.T) {
	s := NewOneShot()
	s.Fire(nil)
	s.Fire(errors.New("too late"))
	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if s.Err() != nil {
		t.Fatalf("expected first Fire(nil) to win, got %v", s.Err())
	}
}

func TestWatchedBroadcastsToAll(t *testing.T) {
	w := NewWatched()
	n := 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-w.C()
		}()
	}
	w.Trip()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all watchers observed the trip")
	}
}

func TestLockIsNotReentrant(t *testing.T) {
	var l Lock
	if !l.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire() {
		t.Fatal("second acquire should fail while held")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestDrainerWaitsForAllWatchers(t *testing.T) {
	d := NewDrainer()
	done1, _ := d.Watcher()
	done2, draining := d.Watcher()

	drained := make(chan struct{})
	go func() {
		d.Drain()
		close(drained)
	}()

	select {
	case <-draining:
	case <-time.After(time.Second):
		t.Fatal("watcher never observed drain start")
	}

	select {
	case <-drained:
		t.Fatal("Drain returned before watchers checked out")
	case <-time.After(20 * time.Millisecond):
	}

	done1()
	done2()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after all watchers checked out")
	}
}

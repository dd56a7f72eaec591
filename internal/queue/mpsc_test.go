package queue

import (
	"sync"
	"testing"
	"time"
)

func TestMPSCBasicOperations(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		i := i
		if !q.Push(&i) {
			t.Fatalf("failed to push item %d", i)
		}
	}

	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			seen[*val] = true
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 distinct items, got %d", len(seen))
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := New[int]()
	defer q.Close()

	const producers = 20
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := i
				q.Push(&v)
			}
		}()
	}

	go func() {
		wg.Wait()
	}()

	count := 0
	timeout := time.After(2 * time.Second)
	for count < producers*perProducer {
		select {
		case <-q.Recv():
			count++
		case <-timeout:
			t.Fatalf("timed out after receiving %d/%d items", count, producers*perProducer)
		}
	}
}

func TestMPSCCloseDeliversQueued(t *testing.T) {
	q := New[int]()

	for i := 0; i < 3; i++ {
		i := i
		q.Push(&i)
	}
	q.Close()

	count := 0
	for range q.Recv() {
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 items delivered after close, got %d", count)
	}
	if !q.IsClosed() {
		t.Fatalf("expected queue to report closed")
	}
}

func TestMPSCPushAfterCloseFails(t *testing.T) {
	q := New[int]()
	q.Close()

	v := 1
	if q.Push(&v) {
		t.Fatalf("expected push after close to fail")
	}
}

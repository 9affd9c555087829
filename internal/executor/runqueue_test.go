package executor

import (
	"sync"
	"testing"
)

func TestDequeueAllRunsInPushOrder(t *testing.T) {
	var q RunQueue
	tasks := make([]TaskHeader, 5)
	for i := range tasks {
		tasks[i].id = TaskID(i + 1)
		wasEmpty := q.Enqueue(&tasks[i])
		if wasEmpty != (i == 0) {
			t.Fatalf("enqueue %d: wasEmpty=%v", i, wasEmpty)
		}
	}

	var got []TaskID
	n := q.DequeueAll(func(h *TaskHeader) { got = append(got, h.id) })
	if n != len(tasks) {
		t.Fatalf("dequeued: want %d, got %d", len(tasks), n)
	}
	for i, id := range got {
		if id != TaskID(i+1) {
			t.Fatalf("order mismatch at %d: %v", i, got)
		}
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty after DequeueAll")
	}
}

func TestDequeueAllSnapshotsQueue(t *testing.T) {
	var q RunQueue
	a := &TaskHeader{id: 1}
	b := &TaskHeader{id: 2}
	q.Enqueue(a)

	visits := 0
	q.DequeueAll(func(h *TaskHeader) {
		visits++
		// Pushes during a drain belong to the next drain.
		q.Enqueue(h)
		q.Enqueue(b)
	})
	if visits != 1 {
		t.Fatalf("visits: want 1, got %d", visits)
	}

	var got []TaskID
	q.DequeueAll(func(h *TaskHeader) { got = append(got, h.id) })
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("second drain: %v", got)
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	var q RunQueue
	const producers, per = 8, 64
	tasks := make([]TaskHeader, producers*per)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Enqueue(&tasks[p*per+i])
			}
		}(p)
	}

	seen := make(map[*TaskHeader]bool, len(tasks))
	drain := func() {
		q.DequeueAll(func(h *TaskHeader) {
			if seen[h] {
				t.Errorf("task dequeued twice")
			}
			seen[h] = true
		})
	}
	done := waitCh(&wg)
	for {
		drain()
		select {
		case <-done:
			drain()
			if len(seen) != len(tasks) {
				t.Fatalf("lost tasks: got %d of %d", len(seen), len(tasks))
			}
			return
		default:
		}
	}
}

func waitCh(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

package executor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingHooks struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHooks) add(format string, args ...any) {
	h.mu.Lock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
	h.mu.Unlock()
}

func (h *recordingHooks) PollStart(ex uint32)          { h.add("poll_start") }
func (h *recordingHooks) TaskNew(ex, task uint32)      { h.add("task_new") }
func (h *recordingHooks) TaskEnd(ex, task uint32)      { h.add("task_end") }
func (h *recordingHooks) TaskReadyBegin(ex, t uint32)  { h.add("task_ready") }
func (h *recordingHooks) TaskExecBegin(ex, t uint32)   { h.add("exec_begin") }
func (h *recordingHooks) TaskExecEnd(ex, t uint32)     { h.add("exec_end") }
func (h *recordingHooks) ExecutorIdle(ex uint32)       { h.add("idle") }
func (h *recordingHooks) String() string               { return strings.Join(h.snapshot(), " ") }
func (h *recordingHooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type countingPender struct {
	n atomic.Int64
}

func (p *countingPender) Pend(uintptr) { p.n.Add(1) }

// parked counts polls and stays pending until released.
type parked struct {
	polls   *atomic.Int64
	waker   *AtomicWaker
	release *atomic.Bool
}

func (p parked) Poll(w Waker) PollResult {
	p.polls.Add(1)
	p.waker.Register(w)
	if p.release.Load() {
		return Ready
	}
	return Pending
}

func newParked() (parked, *atomic.Int64, *AtomicWaker, *atomic.Bool) {
	polls := &atomic.Int64{}
	waker := &AtomicWaker{}
	release := &atomic.Bool{}
	return parked{polls: polls, waker: waker, release: release}, polls, waker, release
}

func queueLen(q *RunQueue) int {
	n := 0
	for t := q.head.Load(); t != nil; t = t.next.Load() {
		n++
	}
	return n
}

func TestSpawnQueuesAndPends(t *testing.T) {
	pender := &countingPender{}
	ex := New(1, pender, 7)
	pool := NewTaskPool[parked](2)
	fut, polls, _, _ := newParked()

	ref, err := ex.Spawner().Spawn(pool.Spawn(func() parked { return fut }))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if got := ref.State(); got != Queued {
		t.Fatalf("state after spawn: want %v, got %v", Queued, got)
	}
	if pender.n.Load() != 1 {
		t.Fatalf("pend count: want 1, got %d", pender.n.Load())
	}
	ex.Poll()
	if polls.Load() != 1 {
		t.Fatalf("polls: want 1, got %d", polls.Load())
	}
	if got := ref.State(); got != NotQueued {
		t.Fatalf("state after poll: want %v, got %v", NotQueued, got)
	}
}

func TestWakeIsIdempotent(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	pool := NewTaskPool[parked](1)
	fut, polls, waker, _ := newParked()
	ex.Spawner().MustSpawn(pool.Spawn(func() parked { return fut }))
	ex.Poll()

	for i := 0; i < 10; i++ {
		waker.Wake()
	}
	if n := queueLen(&ex.queue); n != 1 {
		t.Fatalf("queue length after repeated wakes: want 1, got %d", n)
	}
	ex.Poll()
	if polls.Load() != 2 {
		t.Fatalf("polls: want 2, got %d", polls.Load())
	}
	ex.Poll()
	if polls.Load() != 2 {
		t.Fatalf("poll without wake resumed the task: got %d polls", polls.Load())
	}
}

func TestSelfWakeDefersToNextResume(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	pool := NewTaskPool[FutureFunc](1)

	var (
		polls   int
		running atomic.Bool
		reentry bool
	)
	ref := ex.Spawner().MustSpawn(pool.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			if !running.CompareAndSwap(false, true) {
				reentry = true
			}
			defer running.Store(false)
			polls++
			if polls == 1 {
				w.Wake()
				w.Wake()
				if got := TaskFromWaker(w).State(); got != QueuedWhileRunning {
					t.Errorf("state during self-wake: want %v, got %v", QueuedWhileRunning, got)
				}
				return Pending
			}
			return Pending
		}
	}))

	ex.Poll()
	if reentry {
		t.Fatalf("task was resumed re-entrantly")
	}
	if polls != 2 {
		t.Fatalf("self-wake should produce exactly one more resume: got %d polls", polls)
	}
	if got := ref.State(); got != NotQueued {
		t.Fatalf("state after poll: want %v, got %v", NotQueued, got)
	}
}

func TestPoolExhaustionReturnsBusy(t *testing.T) {
	const n = 3
	ex := New(1, &countingPender{}, 0)
	pool := NewTaskPool[Never](n)
	sp := ex.Spawner()
	for i := 0; i < n; i++ {
		if _, err := sp.Spawn(pool.Spawn(func() Never { return Never{} })); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}
	_, err := sp.Spawn(pool.Spawn(func() Never { return Never{} }))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("spawn beyond capacity: want ErrBusy, got %v", err)
	}
	if live := pool.Live(); live != n {
		t.Fatalf("live tasks: want %d, got %d", n, live)
	}
	ex.Poll()
	if st := ex.Stats(); st.Busy != 1 || st.Spawned != n || st.Resumes != n {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSlotReuseAfterCompletion(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	pool := NewTaskPool[parked](1)
	sp := ex.Spawner()

	a, _, wakeA, releaseA := newParked()
	refA, err := sp.Spawn(pool.Spawn(func() parked { return a }))
	if err != nil {
		t.Fatalf("spawn A: %v", err)
	}
	ex.Poll()

	b, pollsB, _, _ := newParked()
	built := false
	if _, err := sp.Spawn(pool.Spawn(func() parked { built = true; return b })); !errors.Is(err, ErrBusy) {
		t.Fatalf("spawn B while A is live: want ErrBusy, got %v", err)
	}
	if built {
		t.Fatalf("constructor ran for a failed spawn")
	}

	releaseA.Store(true)
	wakeA.Wake()
	ex.Poll()
	if got := refA.State(); got != Free {
		t.Fatalf("slot after A finished: want %v, got %v", Free, got)
	}

	refB, err := sp.Spawn(pool.Spawn(func() parked { return b }))
	if err != nil {
		t.Fatalf("spawn B after A finished: %v", err)
	}
	if refB.ID() != refA.ID() {
		t.Fatalf("slot id not reused: A=%d B=%d", refA.ID(), refB.ID())
	}
	ex.Poll()
	if pollsB.Load() != 1 {
		t.Fatalf("B polls: want 1, got %d", pollsB.Load())
	}
}

func TestTraceOrder(t *testing.T) {
	hooks := &recordingHooks{}
	ex := New(3, &countingPender{}, 0, WithHooks(hooks))
	storage := NewTaskStorage[Future]()
	ex.Spawner().MustSpawn(storage.Spawn(YieldNow))
	ex.Poll()

	want := "task_new task_ready poll_start exec_begin exec_end task_ready " +
		"poll_start exec_begin exec_end task_end idle"
	if got := hooks.String(); got != want {
		t.Fatalf("trace mismatch:\nwant %s\ngot  %s", want, got)
	}
}

func TestIdleOnlyWhenQueueEmpty(t *testing.T) {
	hooks := &recordingHooks{}
	ex := New(1, &countingPender{}, 0, WithHooks(hooks))
	pool := NewTaskPool[FutureFunc](2)

	var other Waker
	sp := ex.Spawner()
	sp.MustSpawn(pool.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			other = w
			return Pending
		}
	}))
	sp.MustSpawn(pool.Spawn(func() FutureFunc {
		first := true
		return func(w Waker) PollResult {
			if first {
				first = false
				// Wakes a task whose turn in this pass is already over.
				other.Wake()
			}
			return Pending
		}
	}))
	ex.Poll()

	events := hooks.snapshot()
	idle := 0
	for i, ev := range events {
		if ev == "idle" {
			idle++
			if i != len(events)-1 {
				t.Fatalf("idle emitted before the queue drained: %v", events)
			}
		}
	}
	if idle != 1 {
		t.Fatalf("idle count: want 1, got %d (%v)", idle, events)
	}
	if ex.HasWork() {
		t.Fatalf("queue not empty after poll")
	}
}

func TestConcurrentWakersCollapse(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	pool := NewTaskPool[parked](1)
	fut, polls, waker, _ := newParked()
	ex.Spawner().MustSpawn(pool.Spawn(func() parked { return fut }))
	ex.Poll()

	const rounds = 50
	for r := 0; r < rounds; r++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				waker.Wake()
			}()
		}
		wg.Wait()
		if n := queueLen(&ex.queue); n != 1 {
			t.Fatalf("round %d: queue length want 1, got %d", r, n)
		}
		ex.Poll()
	}
	if got := polls.Load(); got != rounds+1 {
		t.Fatalf("polls: want %d, got %d", rounds+1, got)
	}
}

func TestReentrantPollPanics(t *testing.T) {
	var ex *Executor
	ex = New(1, PendFunc(func(uintptr) {}), 0)
	storage := NewTaskStorage[FutureFunc]()
	ex.Spawner().MustSpawn(storage.Spawn(func() FutureFunc {
		return func(Waker) PollResult {
			ex.Poll()
			return Ready
		}
	}))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic on re-entrant poll")
		}
		if msg := fmt.Sprint(r); msg != "executor 1: poll called re-entrantly" {
			t.Fatalf("panic mismatch: %q", msg)
		}
	}()
	ex.Poll()
}

func TestForCurrentExecutor(t *testing.T) {
	ex := New(9, &countingPender{}, 0)
	pool := NewTaskPool[FutureFunc](1)
	child := NewTaskStorage[Future]()
	var childRef TaskRef
	ex.Spawner().MustSpawn(pool.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			ref, err := ForCurrentExecutor(w).Spawn(child.Spawn(YieldNow))
			if err != nil {
				t.Errorf("spawn child: %v", err)
			}
			childRef = ref
			return Ready
		}
	}))
	ex.Poll()
	if childRef.Executor() != nil {
		t.Fatalf("child should have finished and detached, state %v", childRef.State())
	}
	if st := ex.Stats(); st.Ended != 2 {
		t.Fatalf("ended tasks: want 2, got %d", st.Ended)
	}
}

func TestAfterWakesOnce(t *testing.T) {
	woken := make(chan struct{}, 4)
	ex := New(1, PendFunc(func(uintptr) { woken <- struct{}{} }), 0)
	storage := NewTaskStorage[Future]()
	ref := ex.Spawner().MustSpawn(storage.Spawn(func() Future { return After(50 * time.Millisecond) }))
	<-woken // spawn
	ex.Poll()
	if ref.State() != NotQueued {
		t.Fatalf("timer completed before its deadline: %v", ref.State())
	}

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatalf("timer never woke the task")
	}
	ex.Poll()
	if ref.State() != Free {
		t.Fatalf("state after deadline: want %v, got %v", Free, ref.State())
	}
}

func TestWakeNoPendSkipsPender(t *testing.T) {
	pender := &countingPender{}
	ex := New(1, pender, 0)
	storage := NewTaskStorage[parked]()
	fut, polls, _, _ := newParked()
	ref := ex.Spawner().MustSpawn(storage.Spawn(func() parked { return fut }))
	ex.Poll()

	WakeTaskNoPend(ref)
	WakeTaskNoPend(ref)
	if got := pender.n.Load(); got != 1 {
		t.Fatalf("pend count: want only the spawn pend, got %d", got)
	}
	if n := queueLen(&ex.queue); n != 1 {
		t.Fatalf("queue length: want 1, got %d", n)
	}
	ex.Poll()
	if got := polls.Load(); got != 2 {
		t.Fatalf("polls: want 2, got %d", got)
	}
}

func expectFatal(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic %q", want)
		}
		if msg := fmt.Sprint(r); msg != want {
			t.Fatalf("panic mismatch:\nwant %q\ngot  %q", want, msg)
		}
	}()
	fn()
}

func TestSpawnTwicePanics(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	storage := NewTaskStorage[Never]()
	tok := storage.Spawn(func() Never { return Never{} })
	ex.Spawner().MustSpawn(tok)

	want := fmt.Sprintf("executor 1: task %d spawned twice", storage.header.id)
	expectFatal(t, want, func() { ex.Spawner().MustSpawn(tok) })
}

func TestRetireFreeSlotPanics(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	storage := NewTaskStorage[Future]()
	ref := ex.Spawner().MustSpawn(storage.Spawn(YieldNow))
	ex.Poll()
	if ref.State() != Free {
		t.Fatalf("task should have finished, state %v", ref.State())
	}

	want := fmt.Sprintf("executor 1: task %d freed twice", storage.header.id)
	expectFatal(t, want, func() { ex.retire(&storage.header) })
}

func TestDequeueUnownedTaskPanics(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	storage := NewTaskStorage[Never]()
	ex.queue.Enqueue(&storage.header)

	want := fmt.Sprintf("executor 1: task %d dequeued while not owned by any pool", storage.header.id)
	expectFatal(t, want, ex.Poll)
	if ex.Polling() {
		t.Fatalf("executor still marked as polling after the panic")
	}
}

func TestSleepersShareOneAlarm(t *testing.T) {
	pends := make(chan struct{}, 64)
	ex := New(1, PendFunc(func(uintptr) {
		select {
		case pends <- struct{}{}:
		default:
		}
	}), 0)
	pool := NewTaskPool[Future](3)
	sp := ex.Spawner()
	for i := 1; i <= 3; i++ {
		d := time.Duration(i) * 10 * time.Millisecond
		sp.MustSpawn(pool.Spawn(func() Future { return After(d) }))
	}

	ex.Poll()
	if n := ex.timers.len(); n != 3 {
		t.Fatalf("timer queue length: want 3, got %d", n)
	}
	alarm := ex.alarm
	if alarm == nil {
		t.Fatalf("no alarm armed for pending deadlines")
	}

	deadline := time.After(2 * time.Second)
	for pool.Live() > 0 {
		select {
		case <-pends:
		case <-deadline:
			t.Fatalf("sleepers never finished, %d live", pool.Live())
		}
		ex.Poll()
		if ex.alarm != alarm {
			t.Fatalf("executor replaced its alarm")
		}
	}
	if n := ex.timers.len(); n != 0 {
		t.Fatalf("timer queue after all sleepers finished: want 0, got %d", n)
	}
	if st := ex.Stats(); st.Alarms == 0 || st.Ended != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestExpiredDeadlineRunsWithoutPend(t *testing.T) {
	pender := &countingPender{}
	ex := New(1, pender, 0)
	storage := NewTaskStorage[FutureFunc]()
	polls := 0
	ref := ex.Spawner().MustSpawn(storage.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			polls++
			if polls == 2 {
				return Ready
			}
			ScheduleWake(time.Now().Add(-time.Millisecond), w)
			return Pending
		}
	}))

	ex.Poll()
	if ref.State() != Free || polls != 2 {
		t.Fatalf("expired task not rerun in the same poll: state %v, polls %d", ref.State(), polls)
	}
	if got := pender.n.Load(); got != 1 {
		t.Fatalf("pend count: want only the spawn pend, got %d", got)
	}
	if st := ex.Stats(); st.Polls != 1 || st.Alarms != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestFinishedTaskLeavesTimerQueue(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	storage := NewTaskStorage[FutureFunc]()
	first := true
	ex.Spawner().MustSpawn(storage.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			if !first {
				return Ready
			}
			first = false
			ScheduleWake(time.Now().Add(time.Hour), w)
			w.Wake()
			return Pending
		}
	}))

	ex.Poll()
	if n := ex.timers.len(); n != 0 {
		t.Fatalf("timer queue after the task finished: want 0, got %d", n)
	}
	if !storage.header.expiresAt.IsZero() || storage.header.inTimers {
		t.Fatalf("freed slot still carries timer state")
	}
}

func TestScheduleWakeKeepsEarliest(t *testing.T) {
	ex := New(1, &countingPender{}, 0)
	storage := NewTaskStorage[FutureFunc]()
	base := time.Now().Add(time.Hour)
	ex.Spawner().MustSpawn(storage.Spawn(func() FutureFunc {
		return func(w Waker) PollResult {
			ScheduleWake(base.Add(time.Minute), w)
			ScheduleWake(base, w)
			ScheduleWake(base.Add(2*time.Minute), w)
			return Pending
		}
	}))
	ex.Poll()
	at, ok := ex.timers.next()
	if !ok || !at.Equal(base) {
		t.Fatalf("next deadline: want %v, got %v (%v)", base, at, ok)
	}
	ex.alarm.Stop()
}

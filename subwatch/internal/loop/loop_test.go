package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	if !l.Sync(func() {}) {
		t.Fatal("Sync: loop closed")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order: got %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestLoop_AfterFunc(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestLoop_StoppedTimerIsInert(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var ran atomic.Bool
	l.Sync(func() {
		tm := l.AfterFunc(time.Millisecond, func() { ran.Store(true) })
		// The loop is busy with this task, so the fired callback queues
		// behind it and must observe the Stop below.
		time.Sleep(20 * time.Millisecond)
		tm.Stop()
	})
	l.Sync(func() {})

	if ran.Load() {
		t.Error("stopped timer callback ran")
	}
}

func TestLoop_PanicDoesNotKillLoop(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	if !l.Sync(func() {}) {
		t.Fatal("loop died after panic")
	}
}

func TestLoop_CloseDropsWork(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	if l.Sync(func() {}) {
		t.Error("Sync succeeded on a closed loop")
	}
	l.Post(func() {}) // must not block
}

func TestVirtual_AdvanceFiresInOrder(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var got []string
	v.AfterFunc(30*time.Millisecond, func() { got = append(got, "c") })
	v.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	v.AfterFunc(10*time.Millisecond, func() { got = append(got, "b") })

	v.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("after 20ms: got %v", got)
	}
	if v.Pending() != 1 {
		t.Errorf("Pending: got %d, want 1", v.Pending())
	}

	v.Advance(10 * time.Millisecond)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("after 30ms: got %v", got)
	}
	if !v.Now().Equal(time.Unix(0, 0).Add(30 * time.Millisecond)) {
		t.Errorf("Now: got %v", v.Now())
	}
}

func TestVirtual_StopAndNestedTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var got []string

	stopped := v.AfterFunc(5*time.Millisecond, func() { got = append(got, "stopped") })
	v.AfterFunc(5*time.Millisecond, func() {
		got = append(got, "outer")
		v.AfterFunc(5*time.Millisecond, func() { got = append(got, "inner") })
	})
	if !stopped.Stop() {
		t.Fatal("Stop on active timer returned false")
	}
	if stopped.Stop() {
		t.Error("second Stop returned true")
	}

	v.Advance(20 * time.Millisecond)
	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Fatalf("got %v", got)
	}
}

func TestVirtual_PostAndDrain(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	n := 0
	v.Post(func() {
		n++
		v.Post(func() { n++ })
	})
	v.Drain()
	if n != 2 {
		t.Errorf("n: got %d, want 2", n)
	}
}

package app

import (
	"container/heap"
	"testing"
	"time"
)

func TestTimerHeapOrdersByDeadlineThenSeq(t *testing.T) {
	now := time.Now()
	h := &timerHeap{}
	heap.Init(h)

	heap.Push(h, &timerEntry{deadline: now.Add(2 * time.Second), seq: 1, target: 20})
	heap.Push(h, &timerEntry{deadline: now, seq: 3, target: 10})
	heap.Push(h, &timerEntry{deadline: now, seq: 2, target: 11})
	heap.Push(h, &timerEntry{deadline: now.Add(time.Second), seq: 4, target: 30})

	var order []int32
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*timerEntry).target)
	}

	want := []int32{11, 10, 30, 20}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTimerWheelFiresDueEntryAndDispatches(t *testing.T) {
	a, disp := newTestApp(t, Config{})

	a.timers.schedule(time.Millisecond, 7, 42)

	deadline := time.Now().Add(2 * time.Second)
	for disp.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if disp.len() != 1 {
		t.Fatalf("dispatched events = %d, want 1", disp.len())
	}
	if disp.at(0).AppName != a.Name() {
		t.Fatalf("dispatched event AppName = %q, want %q", disp.at(0).AppName, a.Name())
	}
}

func TestTimerWheelStopIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	a.timers.stop()
	a.timers.stop() // must not panic on a closed channel
}

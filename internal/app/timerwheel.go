package app

import (
	"container/heap"
	"sync"
	"time"

	"github.com/lssahost/lssa/internal/event"
)

// timerEntry is one pending timer.set_timeout registration, ordered by
// deadline and, for ties, by the order it was scheduled in (FIFO).
type timerEntry struct {
	deadline time.Time
	seq      uint64
	target   int32
	data     int32
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// timerWheel runs one dedicated goroutine per application that fires due
// set_timeout registrations in non-decreasing deadline order, breaking
// ties FIFO. It never calls into the guest directly: like every other
// async namespace, it only ever packages a completion as an event.Event
// and hands it to the application's dispatcher.
type timerWheel struct {
	app *Application

	mu   sync.Mutex
	heap timerHeap
	seq  uint64

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTimerWheel(a *Application) *timerWheel {
	w := &timerWheel{
		app:  a,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	a.spawn(w.run)
	return w
}

// schedule registers a callback to fire after delay. delay may be zero,
// in which case the next run loop iteration fires it essentially
// immediately but still off the dispatcher goroutine, unlike
// timer.set_immediate which is handled entirely in-process by
// Application.queueImmediate.
func (w *timerWheel) schedule(delay time.Duration, target, data int32) {
	w.mu.Lock()
	w.seq++
	heap.Push(&w.heap, &timerEntry{
		deadline: time.Now().Add(delay),
		seq:      w.seq,
		target:   target,
		data:     data,
	})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *timerWheel) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := w.nextWait()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.done:
			return
		case <-w.wake:
			continue
		case <-timer.C:
			w.fireDue()
		}
	}
}

func (w *timerWheel) nextWait() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.heap) == 0 {
		return time.Hour
	}
	wait := time.Until(w.heap[0].deadline)
	if wait < 0 {
		return 0
	}
	return wait
}

func (w *timerWheel) fireDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.heap) == 0 || w.heap[0].deadline.After(now) {
			w.mu.Unlock()
			return
		}
		entry := heap.Pop(&w.heap).(*timerEntry)
		w.mu.Unlock()

		if w.app.Closed() {
			continue
		}
		w.app.dispatch(event.Timeout(w.app.Name(), entry.target, entry.data))
	}
}

func (w *timerWheel) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

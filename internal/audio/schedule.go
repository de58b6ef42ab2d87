package audio

import (
	"container/heap"
	"sync"
)

type scheduled struct {
	at  float64
	seq uint64
	fn  func()
}

type scheduleHeap []scheduled

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	if h[i].at == h[j].at {
		return h[i].seq < h[j].seq
	}
	return h[i].at < h[j].at
}
func (h scheduleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scheduleHeap) Push(x any)   { *h = append(*h, x.(scheduled)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = scheduled{}
	*h = old[:n-1]
	return x
}

// scheduler holds callbacks keyed by graph time. Callbacks run on the render
// goroutine before the block that contains their time, outside the graph lock.
type scheduler struct {
	mu   sync.Mutex
	h    scheduleHeap
	next uint64
}

func (s *scheduler) add(at float64, fn func()) {
	s.mu.Lock()
	s.next++
	heap.Push(&s.h, scheduled{at: at, seq: s.next, fn: fn})
	s.mu.Unlock()
}

// popDue removes the earliest callback due before t.
func (s *scheduler) popDue(t float64) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 || s.h[0].at >= t {
		return nil, false
	}
	return heap.Pop(&s.h).(scheduled).fn, true
}

func (s *scheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

package worker

import "container/heap"

// Timer is a handle returned by Worker.AddTimer, used with
// Worker.CancelTimer. Heap-entry bookkeeping lives here; the fire closure
// the caller supplies typically delivers an event into the owning FSM's
// context.
type Timer struct {
	seq     uint64
	index   int
	when    int64 // unix nano
	fire    func()
	stopped func()
	active  bool
}

// timerHeap is a min-heap of *Timer ordered by deadline, kept as pointers
// so a Timer can be located and removed by CancelTimer in O(log n).
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when < h[j].when }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) remove(t *Timer) {
	if t.index < 0 || t.index >= len(*h) || (*h)[t.index] != t {
		return
	}
	heap.Remove(h, t.index)
}

package output

// pendingHeap implements [container/heap.Interface] as a min-heap of started
// sources ordered by start frame, with FIFO tie-breaking on seq.
type pendingHeap []*source

func (h pendingHeap) Len() int { return len(h) }

// Less reports whether element i begins before element j. Sources that begin
// on the same frame keep their Start order.
func (h pendingHeap) Less(i, j int) bool {
	if h[i].startFrame != h[j].startFrame {
		return h[i].startFrame < h[j].startFrame
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *pendingHeap) Push(x any) {
	s := x.(*source)
	s.index = len(*h)
	*h = append(*h, s)
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

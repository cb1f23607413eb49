package mediastream

import (
	"container/heap"

	"github.com/MrWong99/callbridge/internal/pipeline"
)

// resultHeap implements [container/heap.Interface] as a min-heap on chunk
// sequence number.
type resultHeap []pipeline.Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push is called by [container/heap.Push]; do not call it directly.
func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(pipeline.Result))
}

// Pop is called by [container/heap.Pop]; do not call it directly.
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = pipeline.Result{}
	*h = old[:n-1]
	return r
}

// reorderBuffer holds results that finished ahead of an earlier chunk and
// releases them strictly in sequence order. Every sequence number must be
// added exactly once, including chunks that produced no audio, or later
// results stay parked. Not safe for concurrent use.
type reorderBuffer struct {
	next uint64
	h    resultHeap
}

// add parks r and returns the results that are now releasable, in order.
func (b *reorderBuffer) add(r pipeline.Result) []pipeline.Result {
	if r.Seq < b.next {
		return nil
	}
	heap.Push(&b.h, r)

	var out []pipeline.Result
	for b.h.Len() > 0 && b.h[0].Seq == b.next {
		out = append(out, heap.Pop(&b.h).(pipeline.Result))
		b.next++
	}
	return out
}

// pending returns the number of parked results.
func (b *reorderBuffer) pending() int { return b.h.Len() }

package capture

import (
	"container/heap"

	"github.com/banshee-data/splatcapture/internal/dataset"
)

// frameHeap is a min-heap of frames keyed by id.
type frameHeap []dataset.Frame

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].ID < h[j].ID }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)        { *h = append(*h, x.(dataset.Frame)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = dataset.Frame{}
	*h = old[:n-1]
	return f
}

// orderedQueue reorders frames that complete out of order. It is owned by
// the writer goroutine and is not safe for concurrent use.
type orderedQueue struct {
	h frameHeap
}

func (q *orderedQueue) push(f dataset.Frame) { heap.Push(&q.h, f) }

func (q *orderedQueue) len() int { return q.h.Len() }

// ready pops the lowest frame if its id is next.
func (q *orderedQueue) ready(next uint32) (dataset.Frame, bool) {
	if q.h.Len() == 0 || q.h[0].ID != next {
		return dataset.Frame{}, false
	}
	return heap.Pop(&q.h).(dataset.Frame), true
}

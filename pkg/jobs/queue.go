package jobs

import "container/heap"

type queueItem struct {
	job Job
	seq uint64
}

// jobHeap orders by descending priority, then by submission order.
type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	pi, pj := h[i].job.Priority(), h[j].job.Priority()
	if pi == pj {
		return h[i].seq < h[j].seq
	}
	return pi > pj
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(queueItem))
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// jobQueue is the scheduler's priority queue plus a handle index used for
// duplicate detection. It is not safe for concurrent use; the scheduler
// guards it with its own lock.
type jobQueue struct {
	heap  jobHeap
	index map[Handle]struct{}
	seq   uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{index: make(map[Handle]struct{})}
}

func (q *jobQueue) Len() int { return q.heap.Len() }

func (q *jobQueue) Contains(h Handle) bool {
	_, ok := q.index[h]
	return ok
}

func (q *jobQueue) Push(job Job) {
	heap.Push(&q.heap, queueItem{job: job, seq: q.seq})
	q.seq++
	q.index[job.Handle()] = struct{}{}
}

// Pop removes the highest-priority job, or returns nil if the queue is empty.
func (q *jobQueue) Pop() Job {
	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(queueItem)
	delete(q.index, item.job.Handle())
	return item.job
}

// RemoveMatching removes every job for which match returns true and returns
// them in no particular order.
func (q *jobQueue) RemoveMatching(match func(Job) bool) []Job {
	var removed []Job
	kept := q.heap[:0]
	for _, item := range q.heap {
		if match(item.job) {
			removed = append(removed, item.job)
			delete(q.index, item.job.Handle())
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(q.heap); i++ {
		q.heap[i] = queueItem{}
	}
	q.heap = kept
	if len(removed) > 0 {
		heap.Init(&q.heap)
	}
	return removed
}

// Drain empties the queue and returns its former contents.
func (q *jobQueue) Drain() []Job {
	return q.RemoveMatching(func(Job) bool { return true })
}

// Handles lists queued jobs, highest priority first.
func (q *jobQueue) Handles() []Handle {
	tmp := make(jobHeap, len(q.heap))
	copy(tmp, q.heap)
	out := make([]Handle, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(queueItem).job.Handle())
	}
	return out
}

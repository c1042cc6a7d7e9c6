package xplane

import (
	"sync"

	"github.com/curbz/tpxplane/internal/metrics"
)

type queueItem struct {
	index     int32
	value     float32
	terminate bool
}

// updateQueue is the unbounded FIFO between the UDP reader and the
// dispatcher. The reader must never block on a slow dispatcher, so packets
// are never dropped; per-index arrival order is preserved.
type updateQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []queueItem
}

func newUpdateQueue() *updateQueue {
	q := &updateQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *updateQueue) push(item queueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	metrics.QueueBacklog.Set(float64(len(q.items)))
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item is available.
func (q *updateQueue) pop() queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	metrics.QueueBacklog.Set(float64(len(q.items)))
	return item
}

func (q *updateQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

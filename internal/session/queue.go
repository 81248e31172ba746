// ABOUTME: Bounded FIFO of chat messages waiting for a live connection
// ABOUTME: Evicts the oldest item on overflow and prunes items past their max age

package session

import "time"

type queuedItem struct {
	destination     string
	body            []byte
	clientMessageID string
	enqueuedAt      time.Time
}

type outboundQueue struct {
	items    []queuedItem
	capacity int
	maxAge   time.Duration
}

func newOutboundQueue(capacity int, maxAge time.Duration) *outboundQueue {
	return &outboundQueue{capacity: capacity, maxAge: maxAge}
}

// push appends item. When the queue is over capacity the oldest item is
// removed and returned.
func (q *outboundQueue) push(item queuedItem) (queuedItem, bool) {
	q.items = append(q.items, item)
	if len(q.items) <= q.capacity {
		return queuedItem{}, false
	}
	evicted := q.items[0]
	q.items = q.items[1:]
	return evicted, true
}

// prune removes and returns items older than maxAge. A zero maxAge keeps
// everything.
func (q *outboundQueue) prune(now time.Time) []queuedItem {
	if q.maxAge <= 0 {
		return nil
	}

	var expired []queuedItem
	kept := q.items[:0]
	for _, it := range q.items {
		if now.Sub(it.enqueuedAt) >= q.maxAge {
			expired = append(expired, it)
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return expired
}

// drain empties the queue and returns its items in enqueue order.
func (q *outboundQueue) drain() []queuedItem {
	items := q.items
	q.items = nil
	return items
}

// requeue puts items back at the head of the queue, keeping their order.
func (q *outboundQueue) requeue(items []queuedItem) {
	q.items = append(append([]queuedItem(nil), items...), q.items...)
}

func (q *outboundQueue) len() int {
	return len(q.items)
}

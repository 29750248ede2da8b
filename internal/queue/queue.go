// Package queue provides value-based binary heaps for graph traversal.
package queue

// Item is a (node label, distance) pair ordered by distance.
type Item struct {
	Node     uint32
	Distance float32
}

// PriorityQueue is a binary heap of Items. Value-based storage keeps the hot
// search path allocation-free once capacity is reached.
type PriorityQueue struct {
	isMax bool
	items []Item
}

// NewMin creates a min-heap (closest item on top).
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{isMax: false, items: make([]Item, 0, capacity)}
}

// NewMax creates a max-heap (farthest item on top).
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{isMax: true, items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Reset clears the queue for reuse.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

// Top returns the root item without removing it.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(it Item) {
	pq.items = append(pq.items, it)
	pq.up(len(pq.items) - 1)
}

// Pop removes and returns the root item.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}
	root := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]
	if len(pq.items) > 0 {
		pq.down(0)
	}
	return root, true
}

// Min returns the item with the smallest distance. For min-heaps this is the
// root; for max-heaps the backing slice is scanned.
func (pq *PriorityQueue) Min() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	if !pq.isMax {
		return pq.items[0], true
	}
	best := pq.items[0]
	for _, it := range pq.items[1:] {
		if it.Distance < best.Distance {
			best = it
		}
	}
	return best, true
}

func (pq *PriorityQueue) before(i, j int) bool {
	if pq.isMax {
		return pq.items[i].Distance > pq.items[j].Distance
	}
	return pq.items[i].Distance < pq.items[j].Distance
}

func (pq *PriorityQueue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.before(i, parent) {
			return
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue) down(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		best := left
		if right := left + 1; right < n && pq.before(right, left) {
			best = right
		}
		if !pq.before(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}

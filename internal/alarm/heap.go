package alarm

import (
	"container/heap"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
)

// entry is one armed alarm. base is the nominal target; at is when it will
// actually go off after inexact window alignment.
type entry struct {
	id    int64
	gen   int64
	base  time.Time
	at    time.Time
	tier  domain.PrecisionTier
	every time.Duration // zero for one-shots
	index int
}

// alarmHeap is a min-heap on at, with an id index so cancel and replace are O(log n).
type alarmHeap struct {
	items []*entry
	byID  map[int64]*entry
}

func newAlarmHeap() *alarmHeap {
	return &alarmHeap{byID: make(map[int64]*entry)}
}

func (h *alarmHeap) Len() int { return len(h.items) }
func (h *alarmHeap) Less(i, j int) bool {
	if h.items[i].at.Equal(h.items[j].at) {
		return h.items[i].id < h.items[j].id
	}
	return h.items[i].at.Before(h.items[j].at)
}

func (h *alarmHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *alarmHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
	h.byID[e.id] = e
}

func (h *alarmHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	e.index = -1
	delete(h.byID, e.id)
	return e
}

// put arms e, replacing any entry with the same id.
func (h *alarmHeap) put(e *entry) {
	h.remove(e.id)
	heap.Push(h, e)
}

func (h *alarmHeap) remove(id int64) bool {
	e, ok := h.byID[id]
	if !ok {
		return false
	}
	heap.Remove(h, e.index)
	return true
}

func (h *alarmHeap) peek() *entry {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func (h *alarmHeap) pop() *entry {
	return heap.Pop(h).(*entry)
}

// Package wheel implements the hashed timing wheel described by the
// dispatch engine: a fixed-size slot array keyed by seconds-from-now,
// backed by an overflow min-heap for delays that exceed the wheel's
// single-rotation reach.
//
// A Wheel is not safe for concurrent use. It is designed to be owned and
// mutated exclusively by one dispatcher goroutine per the scheduler's
// single-writer concurrency model; callers needing concurrent access
// must serialize through their own control channel, which is exactly
// what pkg/chronowheel does.
package wheel

import (
	"container/heap"
)

// Wheel is a single-level hashed timing wheel of Size slots plus an
// overflow heap for delays >= Size ticks.
type Wheel struct {
	size int
	now  uint64 // absolute tick count since the wheel started
	cur  int    // current slot index, 0..size-1

	slots  [][]int64      // slots[i] holds task ids due at that slot, insertion order
	slotOf map[int64]int  // task id -> index into slots, only while resident in a slot
	over   overflowHeap   // entries with delay >= size, keyed by absolute fire tick
	inOver map[int64]*overflowEntry
}

// overflowEntry is one task waiting in the overflow heap.
type overflowEntry struct {
	at     uint64 // absolute tick at which the task is due
	taskID int64
	index  int // heap index, maintained by container/heap
}

type overflowHeap []*overflowEntry

func (h overflowHeap) Len() int            { return len(h) }
func (h overflowHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h overflowHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *overflowHeap) Push(x any) {
	e := x.(*overflowEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *overflowHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// New creates a Wheel with the given number of slots. size must be > 0;
// the spec's recommended value is 3600 (one-hour reach at one tick per
// second).
func New(size int) *Wheel {
	if size <= 0 {
		panic("wheel: size must be positive")
	}
	w := &Wheel{
		size:   size,
		slots:  make([][]int64, size),
		slotOf: make(map[int64]int),
		inOver: make(map[int64]*overflowEntry),
	}
	heap.Init(&w.over)
	return w
}

// Now returns the wheel's current absolute tick count.
func (w *Wheel) Now() uint64 { return w.now }

// Insert schedules taskID to fire after delaySeconds ticks from now.
// delaySeconds must be >= 0. A task already present in the wheel must be
// removed first; Insert does not check for duplicates (callers own that
// invariant, as the registry does).
//
// delaySeconds == 0 is special-cased to the slot Advance reads on its very
// next call (the same slot a delaySeconds == 1 insert targets): Advance
// increments w.cur before reading, so slot w.cur itself was just vacated
// and will not be read again until the wheel has made a full rotation.
// There is no earlier dispatch point than "the next tick" in a
// once-per-second wheel, so zero and one second both round up to it.
func (w *Wheel) Insert(taskID int64, delaySeconds int64) {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if delaySeconds == 0 {
		slot := (w.cur + 1) % w.size
		w.slots[slot] = append(w.slots[slot], taskID)
		w.slotOf[taskID] = slot
		return
	}
	if delaySeconds < int64(w.size) {
		slot := (w.cur + int(delaySeconds)) % w.size
		w.slots[slot] = append(w.slots[slot], taskID)
		w.slotOf[taskID] = slot
		return
	}
	e := &overflowEntry{at: w.now + uint64(delaySeconds), taskID: taskID}
	heap.Push(&w.over, e)
	w.inOver[taskID] = e
}

// Remove erases taskID from whichever slot or the overflow heap it
// currently occupies. It is a no-op if taskID is not present.
func (w *Wheel) Remove(taskID int64) {
	if slot, ok := w.slotOf[taskID]; ok {
		w.slots[slot] = removeFromSlice(w.slots[slot], taskID)
		delete(w.slotOf, taskID)
		return
	}
	if e, ok := w.inOver[taskID]; ok {
		heap.Remove(&w.over, e.index)
		delete(w.inOver, taskID)
	}
}

func removeFromSlice(s []int64, taskID int64) []int64 {
	for i, id := range s {
		if id == taskID {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Advance moves the wheel forward by one tick and returns the task ids
// due at the new current tick, in firing order: the current slot's
// contents first (in insertion order), followed by any overflow entries
// that have now graduated into range or become due.
//
// Overflow entries whose absolute fire tick has now arrived are appended
// to the result. Overflow entries that have not yet arrived but now fall
// within the wheel's single-rotation reach (at - now < size) are moved
// into their target slot instead, so they will be picked up by a later
// Advance without continuing to occupy the heap.
func (w *Wheel) Advance() []int64 {
	w.now++
	w.cur = (w.cur + 1) % w.size

	due := w.slots[w.cur]
	w.slots[w.cur] = nil
	for _, id := range due {
		delete(w.slotOf, id)
	}

	for w.over.Len() > 0 {
		top := w.over[0]
		delta := int64(top.at) - int64(w.now)
		if delta >= int64(w.size) {
			break
		}
		heap.Pop(&w.over)
		delete(w.inOver, top.taskID)
		if delta <= 0 {
			due = append(due, top.taskID)
			continue
		}
		slot := (w.cur + int(delta)) % w.size
		w.slots[slot] = append(w.slots[slot], top.taskID)
		w.slotOf[top.taskID] = slot
	}

	return due
}

// Len reports the total number of tasks currently tracked by the wheel
// (resident in a slot or in the overflow heap). Intended for tests and
// diagnostics.
func (w *Wheel) Len() int {
	return len(w.slotOf) + len(w.inOver)
}

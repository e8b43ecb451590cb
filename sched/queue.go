package sched

import (
	"github.com/google/btree"
)

// TaskQueue orders tasks by unique weight and extracts the heaviest first.
// Weights are unique by construction, so insertion of an already-present
// weight is a protocol violation and panics. Not safe for concurrent use;
// every queue belongs to a single goroutine.
type TaskQueue struct {
	tree *btree.BTreeG[*Task]
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		tree: btree.NewG(8, func(a, b *Task) bool {
			return a.weight.Less(b.weight)
		}),
	}
}

// Insert adds a task. A weight collision panics.
func (q *TaskQueue) Insert(t *Task) {
	if prev, clash := q.tree.ReplaceOrInsert(t); clash {
		panic("sched: duplicate task weight " + prev.weight.String())
	}
}

// PopMax removes and returns the heaviest task, or nil when empty.
func (q *TaskQueue) PopMax() *Task {
	t, ok := q.tree.DeleteMax()
	if !ok {
		return nil
	}
	return t
}

// PeekMax returns the heaviest task without removing it, or nil when empty.
func (q *TaskQueue) PeekMax() *Task {
	t, ok := q.tree.Max()
	if !ok {
		return nil
	}
	return t
}

// Remove deletes a specific task, reporting whether it was present.
func (q *TaskQueue) Remove(t *Task) bool {
	_, ok := q.tree.Delete(t)
	return ok
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int { return q.tree.Len() }

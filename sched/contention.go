package sched

import (
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// ----------------------------------------------------------------------------
// Per-page contended lists
// ----------------------------------------------------------------------------

// registerContended adds t to the page's contended list, reporting whether
// it was newly inserted. Weights are unique, so re-insertion of the same
// task replaces itself.
func (p *page) registerContended(t *Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, present := p.contended.ReplaceOrInsert(t)
	return !present
}

// popHeaviestContended removes and returns the heaviest waiting task, or nil.
func (p *page) popHeaviestContended() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.contended.DeleteMax()
	if !ok {
		return nil
	}
	return t
}

// removeContended deletes t from the page's list, reporting whether it was
// present.
func (p *page) removeContended(t *Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.contended.Delete(t)
	return ok
}

func (p *page) contendedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contended.Len()
}

// ----------------------------------------------------------------------------
// ContentionIndex
// ----------------------------------------------------------------------------

// ContentionIndex records which tasks wait on which addresses. Registration
// walks every attempted address of a failed task and inserts it into each
// page's contended list, so a release of any of them can surface the task
// for retry.
//
// Registration runs on a worker pool off the scheduling goroutine. Each
// finished registration emits the task on the completions channel; the
// scheduling goroutine rechecks the task's addresses when it receives the
// event, which closes the window where every holder released before the
// task was findable in any list.
type ContentionIndex struct {
	pool        *ants.Pool
	completions chan *Task
	outstanding atomic.Int64
}

// NewContentionIndex starts an index with the given number of registration
// workers and completion backlog.
func NewContentionIndex(workers, backlog int) (*ContentionIndex, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &ContentionIndex{
		pool:        pool,
		completions: make(chan *Task, backlog),
	}, nil
}

// Register indexes a contended task under every address it attempted. The
// contention count is raised up front so a concurrent purge never
// undercounts; insertions that find the task already present compensate.
func (ci *ContentionIndex) Register(t *Task) {
	ci.outstanding.Inc()
	t.addContention(len(t.attempts))
	if err := ci.pool.Submit(func() { ci.index(t) }); err != nil {
		panic("sched: contention index closed: " + err.Error())
	}
}

func (ci *ContentionIndex) index(t *Task) {
	for _, a := range t.attempts {
		if !a.page.registerContended(t) {
			t.dropContention()
		}
	}
	ci.completions <- t
	ci.outstanding.Dec()
}

// Purge removes t from every contended list it still occupies. Entries
// inserted by a registration racing the purge are skipped at pop time
// instead.
func (ci *ContentionIndex) Purge(t *Task) {
	if t.contention() == 0 {
		return
	}
	for _, a := range t.attempts {
		if a.page.removeContended(t) {
			t.dropContention()
		}
	}
}

// Completions returns the channel of finished registrations.
func (ci *ContentionIndex) Completions() <-chan *Task { return ci.completions }

// Outstanding returns the number of registrations not yet completed. The
// count reaches zero only after the matching completion events have been
// sent.
func (ci *ContentionIndex) Outstanding() int64 { return ci.outstanding.Load() }

// Close releases the registration workers. Callers must have drained
// outstanding registrations first.
func (ci *ContentionIndex) Close() {
	ci.pool.Release()
}

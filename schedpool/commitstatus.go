package schedpool

import (
	"sync"
)

// CommitStatus gates transaction recording. Workers pause themselves when a
// Record call fails and wait here until the owner resumes commits or the
// session tears down. Sessions reset the gate on restart.
type CommitStatus struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	abandoned bool
}

func newCommitStatus() *CommitStatus {
	cs := &CommitStatus{}
	cs.cond = sync.NewCond(&cs.mu)
	return cs
}

// Pause stops commits until Resume.
func (cs *CommitStatus) Pause() {
	cs.mu.Lock()
	cs.paused = true
	cs.mu.Unlock()
}

// Resume releases every worker waiting on the gate.
func (cs *CommitStatus) Resume() {
	cs.mu.Lock()
	cs.paused = false
	cs.mu.Unlock()
	cs.cond.Broadcast()
}

// Paused reports whether commits are currently held.
func (cs *CommitStatus) Paused() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.paused
}

// abandon releases waiting workers with a false verdict; pending commits
// must give up so the flush can drain them.
func (cs *CommitStatus) abandon() {
	cs.mu.Lock()
	cs.abandoned = true
	cs.mu.Unlock()
	cs.cond.Broadcast()
}

// reset rearms the gate for a new session.
func (cs *CommitStatus) reset() {
	cs.mu.Lock()
	cs.paused = false
	cs.abandoned = false
	cs.mu.Unlock()
}

// await blocks while commits are paused. It returns false when the session
// is tearing down and the commit should be skipped.
func (cs *CommitStatus) await() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for cs.paused && !cs.abandoned {
		cs.cond.Wait()
	}
	return !cs.abandoned
}

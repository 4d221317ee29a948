package workflow

import (
	"sync"
	"sync/atomic"
)

// cycle serializes changes to a flow's capture set and freezes the set while
// a submission owns it.
type cycle struct {
	mu         sync.Mutex
	submitting atomic.Bool
}

// lock acquires the set for a change. It fails with ErrConcurrentSubmission
// while a submission is pending.
func (c *cycle) lock() error {
	c.mu.Lock()
	if c.submitting.Load() {
		c.mu.Unlock()
		return ErrConcurrentSubmission
	}
	return nil
}

func (c *cycle) unlock() {
	c.mu.Unlock()
}

// handOff marks the set as owned by a submission and releases the lock taken
// by lock.
func (c *cycle) handOff() {
	c.submitting.Store(true)
	c.mu.Unlock()
}

// release returns the set to the flow after the submission finished.
func (c *cycle) release() {
	c.submitting.Store(false)
}

func (c *cycle) busy() bool {
	return c.submitting.Load()
}

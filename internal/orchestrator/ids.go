package orchestrator

import "sync/atomic"

// IDAllocator hands out instance ids. Ids start at 1, strictly increase
// and are never reused for the life of the process.
type IDAllocator struct {
	last atomic.Uint64
}

// Next returns a fresh id. Safe for concurrent use.
func (a *IDAllocator) Next() uint64 {
	return a.last.Add(1)
}

// Package normalizer turns each coding agent's idiosyncratic log dialect
// into the shared NormalizedEntry conversation algebra. One LogNormalizer
// value exists per running process; state is never shared across attempts.
package normalizer

import "sync/atomic"

// EntryIndexProvider hands out strictly increasing conversation indices.
// It is process-wide but explicitly constructed and injected per process,
// never held as a package-level global.
type EntryIndexProvider struct {
	next int64
}

// NewEntryIndexProvider returns a provider starting at 0.
func NewEntryIndexProvider() *EntryIndexProvider {
	return &EntryIndexProvider{}
}

// Next allocates a fresh index.
func (p *EntryIndexProvider) Next() int {
	return int(atomic.AddInt64(&p.next, 1) - 1)
}

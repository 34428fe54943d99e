// Package state holds the per-invocation bookkeeping used while collecting
// links and targets.
package state

import (
	"github.com/bits-and-blooms/bloom/v3"
)

const minEstimate = 256

// Deduplicator tracks seen values using a Bloom filter backed by an exact set
// so that false positives never drop a new value. A Deduplicator belongs to a
// single extraction and is not safe for concurrent use.
type Deduplicator struct {
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	order  []string
}

// NewDeduplicator creates a new deduplicator sized for estimatedItems.
func NewDeduplicator(estimatedItems int) *Deduplicator {
	if estimatedItems < minEstimate {
		estimatedItems = minEstimate
	}

	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}, estimatedItems),
	}
}

// Add records value and reports whether it was new.
func (d *Deduplicator) Add(value string) bool {
	if d.HasSeen(value) {
		return false
	}
	d.filter.AddString(value)
	d.exact[value] = struct{}{}
	d.order = append(d.order, value)
	return true
}

// HasSeen checks if a value has been recorded.
func (d *Deduplicator) HasSeen(value string) bool {
	if !d.filter.TestString(value) {
		return false
	}
	_, exists := d.exact[value]
	return exists
}

// Count returns the number of unique values seen.
func (d *Deduplicator) Count() int {
	return len(d.order)
}

// Values returns the unique values in first-seen order.
func (d *Deduplicator) Values() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

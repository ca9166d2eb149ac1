// An explicit metrics sink passed into the subscription manager at
// construction, instead of module-level mutable counters.

package metrics

import "sync/atomic"

// Sink receives counter updates from the manager and tracker machinery.
type Sink interface {
	FetchStarted()
	FetchCompleted(items int, err error)
	CheckSucceeded()
	CheckFailed()
	ItemsDelivered(n int)
}

// InMemory is a Sink backed by atomic counters, snapshotted for the API.
type InMemory struct {
	fetchesStarted  atomic.Int64
	fetchesFailed   atomic.Int64
	itemsDiscovered atomic.Int64
	checksSucceeded atomic.Int64
	checksFailed    atomic.Int64
	itemsDelivered  atomic.Int64
}

// NewInMemory creates an in-memory metrics sink.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) FetchStarted() {
	m.fetchesStarted.Add(1)
}

func (m *InMemory) FetchCompleted(items int, err error) {
	m.itemsDiscovered.Add(int64(items))
	if err != nil {
		m.fetchesFailed.Add(1)
	}
}

func (m *InMemory) CheckSucceeded() {
	m.checksSucceeded.Add(1)
}

func (m *InMemory) CheckFailed() {
	m.checksFailed.Add(1)
}

func (m *InMemory) ItemsDelivered(n int) {
	m.itemsDelivered.Add(int64(n))
}

// Snapshot returns the current counter values keyed by metric name.
func (m *InMemory) Snapshot() map[string]int64 {
	return map[string]int64{
		"fetches_started":  m.fetchesStarted.Load(),
		"fetches_failed":   m.fetchesFailed.Load(),
		"items_discovered": m.itemsDiscovered.Load(),
		"checks_succeeded": m.checksSucceeded.Load(),
		"checks_failed":    m.checksFailed.Load(),
		"items_delivered":  m.itemsDelivered.Load(),
	}
}

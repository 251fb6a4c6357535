package metrics

import "sync"

// Collector defines the interface for metrics collection
type Collector interface {
	IncrementCounter(name string)
	GetCounter(name string) int64
}

// CounterCollector is a lock-guarded in-memory counter set
type CounterCollector struct {
	counters map[string]int64
	mu       sync.RWMutex
}

func NewCounterCollector() *CounterCollector {
	return &CounterCollector{
		counters: make(map[string]int64),
	}
}

func (cc *CounterCollector) IncrementCounter(name string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.counters[name]++
}

func (cc *CounterCollector) GetCounter(name string) int64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.counters[name]
}

// Counters returns a copy of all counters, for status endpoints
func (cc *CounterCollector) Counters() map[string]int64 {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	snapshot := make(map[string]int64, len(cc.counters))
	for name, value := range cc.counters {
		snapshot[name] = value
	}
	return snapshot
}

package reliability

import (
	"sync"
	"time"
)

// RetryInfo describes the delivery history of one inbound webhook event
type RetryInfo struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	FirstReceivedAt time.Time `json:"first_received_at"`
	LastReceivedAt  time.Time `json:"last_received_at"`
	AttemptCount    int       `json:"attempt_count"`
	Processed       bool      `json:"processed"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// TrackerStats summarizes the tracked webhook ledger for monitoring
type TrackerStats struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Failed      int `json:"failed"`
	Retried     int `json:"retried"`
	MaxAttempts int `json:"max_attempts"`
}

// WebhookRetryTracker is a bounded in-memory ledger of webhook delivery
// attempts, used to detect duplicate deliveries and surface events the
// provider keeps retrying. Entries older than the retention window are
// evicted when an insert would exceed maxEntries; this is a best-effort
// bound, not a strict LRU.
type WebhookRetryTracker struct {
	mu         sync.Mutex
	entries    map[string]*RetryInfo
	maxEntries int
	retention  time.Duration
	now        func() time.Time // for testing
}

func NewWebhookRetryTracker(maxEntries int, retention time.Duration) *WebhookRetryTracker {
	return &WebhookRetryTracker{
		entries:    make(map[string]*RetryInfo),
		maxEntries: maxEntries,
		retention:  retention,
		now:        time.Now,
	}
}

// RecordAttempt registers one delivery of an event. On redelivery the attempt
// count increments, the processed flag is sticky once true, and a non-empty
// error message overwrites the previous one.
func (t *WebhookRetryTracker) RecordAttempt(eventID, eventType string, processed bool, errorMessage string) RetryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	info, exists := t.entries[eventID]
	if !exists {
		if len(t.entries) >= t.maxEntries {
			t.evictStaleLocked(now)
		}
		info = &RetryInfo{
			EventID:         eventID,
			EventType:       eventType,
			FirstReceivedAt: now,
		}
		t.entries[eventID] = info
	}

	info.AttemptCount++
	info.LastReceivedAt = now
	if processed {
		info.Processed = true
	}
	if errorMessage != "" {
		info.ErrorMessage = errorMessage
	}

	return *info
}

// MarkOutcome records how processing of an already recorded delivery went,
// without counting a new attempt. Processed stays sticky once true and a
// non-empty error message overwrites the previous one.
func (t *WebhookRetryTracker) MarkOutcome(eventID string, processed bool, errorMessage string) (RetryInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, exists := t.entries[eventID]
	if !exists {
		return RetryInfo{}, false
	}

	if processed {
		info.Processed = true
	}
	if errorMessage != "" {
		info.ErrorMessage = errorMessage
	}
	return *info, true
}

// GetRetryInfo returns the delivery history for an event id, if any
func (t *WebhookRetryTracker) GetRetryInfo(eventID string) (RetryInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, exists := t.entries[eventID]
	if !exists {
		return RetryInfo{}, false
	}
	return *info, true
}

// GetProblematicEvents returns the unprocessed events that have been
// delivered at least minAttempts times
func (t *WebhookRetryTracker) GetProblematicEvents(minAttempts int) []RetryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var problematic []RetryInfo
	for _, info := range t.entries {
		if !info.Processed && info.AttemptCount >= minAttempts {
			problematic = append(problematic, *info)
		}
	}
	return problematic
}

// GetStats summarizes the current ledger
func (t *WebhookRetryTracker) GetStats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TrackerStats{Total: len(t.entries)}
	for _, info := range t.entries {
		if info.Processed {
			stats.Processed++
		} else {
			stats.Failed++
		}
		if info.AttemptCount > 1 {
			stats.Retried++
		}
		if info.AttemptCount > stats.MaxAttempts {
			stats.MaxAttempts = info.AttemptCount
		}
	}
	return stats
}

// evictStaleLocked drops entries last seen before the retention cutoff.
// Caller must hold the lock.
func (t *WebhookRetryTracker) evictStaleLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for id, info := range t.entries {
		if info.LastReceivedAt.Before(cutoff) {
			delete(t.entries, id)
		}
	}
}

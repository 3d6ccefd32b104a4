package models

import "time"

// SyncWatermark records when the last successful sync finished and which record
// was the newest one observed. There is at most one per store.
type SyncWatermark struct {
	CanonicalID string    `json:"canonicalId"`
	AccountID   string    `json:"accountId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Set when a sync hit the page limit before reaching the anchor. The next
	// sync continues from ResumeCursor and, once it completes, anchors on the
	// pending record instead of the newest one it sees itself.
	ResumeCursor       string `json:"resumeCursor,omitempty"`
	PendingCanonicalID string `json:"pendingCanonicalId,omitempty"`
	PendingAccountID   string `json:"pendingAccountId,omitempty"`
}

// Age returns how long ago the watermark was written, relative to now.
func (w *SyncWatermark) Age(now time.Time) time.Duration {
	return now.Sub(w.Timestamp)
}

// IsStale reports whether the watermark is older than window. A missing
// watermark is always stale.
func (w *SyncWatermark) IsStale(now time.Time, window time.Duration) bool {
	if w == nil {
		return true
	}
	return w.Age(now) > window
}

// Resuming reports whether the previous sync stopped early and left a cursor
// to continue from.
func (w *SyncWatermark) Resuming() bool {
	return w != nil && w.ResumeCursor != ""
}

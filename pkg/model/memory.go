package model

import (
	"time"

	"cloud.google.com/go/firestore"
)

// MemoryEntry is one persisted (message, embedding) pair usable as future retrieval context.
// (ChatID, MessageID) is the dedup key.
type MemoryEntry struct {
	ChatID    ChatID
	MessageID MessageID
	UserID    UserID
	Text      string
	Timestamp time.Time
	Embedding firestore.Vector32

	// Distance is the cosine distance to the query vector. Set only on search results.
	Distance float64
}

// SearchMemoryInput is the query of a nearest-neighbor memory search
type SearchMemoryInput struct {
	ChatID    ChatID
	Embedding firestore.Vector32
	Limit     int

	// MaxAgeDays restricts results to entries newer than Now - MaxAgeDays. Zero or negative disables the filter.
	MaxAgeDays int
	Now        time.Time
}

// Cutoff returns the oldest acceptable timestamp and false when the age filter is disabled
func (x *SearchMemoryInput) Cutoff() (time.Time, bool) {
	if x.MaxAgeDays <= 0 {
		return time.Time{}, false
	}
	now := x.Now
	if now.IsZero() {
		now = time.Now()
	}
	return now.AddDate(0, 0, -x.MaxAgeDays), true
}

package entities

import "time"

// SegmentState is the per-segment metadata record stored at
// live:{sessionId}:segment:{num}. Num is immutable after creation; the
// record is created at most once via a not-exists write.
type SegmentState struct {
	Num             int       `json:"num"`
	Url             string    `json:"url"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       *int64    `json:"size_bytes,omitempty"`
	ParallelLimit   int       `json:"parallel_limit"`
	IsRetrying      bool      `json:"is_retrying"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SegmentDescriptor is an externally reported view of a segment, compared
// against the authoritative SegmentState by the validator.
type SegmentDescriptor struct {
	Num             int     `json:"num"`
	Url             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       *int64  `json:"size_bytes,omitempty"`
}

// SegmentLock occupies one of ParallelLimit slots for a segment. The token
// is required to release the slot; the lease self-expires on crash.
type SegmentLock struct {
	Token      string
	SegmentNum int
	Slot       int
}

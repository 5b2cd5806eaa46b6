package model

import "time"

// CacheEntry describes one stored artifact. Entries are append-only:
// never mutated after creation.
type CacheEntry struct {
	ArtifactID string    `json:"artifactId"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	JobID      string    `json:"jobId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

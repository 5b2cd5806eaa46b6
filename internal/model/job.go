package model

import "time"

// GenerationJob is one in-flight generation request.
type GenerationJob struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	AspectRatio string    `json:"aspectRatio"`
	Count       int       `json:"count"`
	SubmittedAt time.Time `json:"submittedAt"`
	SessionID   string    `json:"sessionId,omitempty"`
}

// Artifact is one generated image.
type Artifact struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
}

// GenerationResult is the ordered artifact set produced for a job.
type GenerationResult struct {
	JobID     string        `json:"jobId"`
	SessionID string        `json:"sessionId"`
	Artifacts []Artifact    `json:"artifacts"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ProgressEvent reports one streamed update while a job is in flight.
type ProgressEvent struct {
	ArtifactID string `json:"imageId"`
	Stage      string `json:"stage"`
	Size       int    `json:"blobSize"`
	Final      bool   `json:"isFinal"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
}

// ProgressFunc receives streamed progress updates. Implementations must
// not block; slow consumers drop updates rather than stall the driver.
type ProgressFunc func(ProgressEvent)

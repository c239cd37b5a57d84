package transcode

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle position of a transcode job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is a point-in-time snapshot of a transcode job.
type Job struct {
	ID            string     `json:"id"`
	SourceAssetID string     `json:"sourceAssetId"`
	Profile       string     `json:"profile"`
	State         State      `json:"state"`
	OutputPath    string     `json:"-"`
	Output        string     `json:"transcodedFilename,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// jobKey identifies the work a job does; at most one live job exists per key.
type jobKey struct {
	asset   string
	profile string
}

// job is the orchestrator's mutable record. Every field except done is
// guarded by Orchestrator.mu.
type job struct {
	Job
	key     jobKey
	profile Profile
	source  string
	target  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Handle lets a caller follow a job it started or joined.
type Handle struct {
	o *Orchestrator
	j *job
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.j.ID
}

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.j.done
}

// Snapshot returns the current job state.
func (h *Handle) Snapshot() Job {
	h.o.mu.Lock()
	defer h.o.mu.Unlock()
	return h.j.Job
}

// Wait blocks until the job finishes or ctx ends. A failed job returns its
// snapshot together with an error wrapping ErrTranscodeFailed.
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-h.j.done:
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
	snap := h.Snapshot()
	if snap.State == StateFailed {
		return snap, fmt.Errorf("%w: %s", ErrTranscodeFailed, snap.Error)
	}
	return snap, nil
}

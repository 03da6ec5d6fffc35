// Package jobs runs the batch rendering pipeline: each job takes text plus
// a reference face through speech synthesis, alignment, motion synthesis,
// neural rendering and encoding, with progress reported along the way.
// Jobs are executed by a worker pool and persisted through the Store
// interface.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/sushil32/Neura/internal/render"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions maps each status to the set it may move to. A job
// reaches exactly one terminal state.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether a job may move from one status to another.
// Staying in place is always allowed so progress updates need no special
// casing.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// Request is the client-facing job submission.
type Request struct {
	Text    string       `json:"text"`
	VoiceID string       `json:"voice_id"`
	FaceID  string       `json:"face_id"`
	Model   render.Model `json:"model"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	FPS     int          `json:"fps"`
	UserID  string       `json:"user_id"`
}

// Job is one unit of batch rendering work.
type Job struct {
	ID      string       `json:"id"`
	UserID  string       `json:"user_id,omitempty"`
	Text    string       `json:"text"`
	VoiceID string       `json:"voice_id,omitempty"`
	FaceID  string       `json:"face_id"`
	Model   render.Model `json:"model"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	FPS     int          `json:"fps"`

	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step,omitempty"`
	Error       string  `json:"error,omitempty"`
	// Degraded marks jobs that completed on a fallback path (silent
	// audio or placeholder video).
	Degraded bool `json:"degraded,omitempty"`

	Credits     float64 `json:"credits,omitempty"`
	ArtifactKey string  `json:"artifact_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob builds a pending job from a request with defaults applied.
func NewJob(req Request) *Job {
	if req.Width <= 0 {
		req.Width = 1280
	}
	if req.Height <= 0 {
		req.Height = 720
	}
	if req.FPS <= 0 {
		req.FPS = 30
	}
	if req.Model == "" {
		req.Model = render.ModelLipSync
	}
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Text:      req.Text,
		VoiceID:   req.VoiceID,
		FaceID:    req.FaceID,
		Model:     req.Model,
		Width:     req.Width,
		Height:    req.Height,
		FPS:       req.FPS,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ArtifactKeyFor derives the storage key for a job's output. Pure
// function of the job ID, so re-running a job overwrites the same key
// instead of accumulating copies.
func ArtifactKeyFor(jobID string) string {
	return "jobs/" + jobID + "/output.mp4"
}

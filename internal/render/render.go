// Package render produces avatar imagery from motion timelines. The real
// work happens in an external neural rendering service reached over HTTP;
// a deterministic placeholder renderer serves as the fallback when the
// service stays unreachable, so a job can always finish with output.
package render

import (
	"context"
	"errors"

	"github.com/sushil32/Neura/internal/motion"
)

// Service-level results callers branch on. Wrapped by client errors, test
// with errors.Is.
var (
	// ErrNotFound means the service does not know the referenced task or
	// reference asset. Retrying will not help.
	ErrNotFound = errors.New("render: not found")
	// ErrUnavailable means the service cannot be reached or refused the
	// work. Retrying may help.
	ErrUnavailable = errors.New("render: service unavailable")
)

// Model selects the rendering backend on the service side.
type Model string

const (
	// ModelLipSync is the lip-region compositing backend.
	ModelLipSync Model = "wav2lip"
	// ModelExpression is the full-face expression-aware backend.
	ModelExpression Model = "sadtalker"
)

// ClipRequest describes a batch rendering call: one utterance worth of
// audio and motion against a reference face.
type ClipRequest struct {
	JobID       string
	Model       Model
	ReferenceID string
	AudioWAV    []byte
	Frames      []motion.Frame
	Width       int
	Height      int
	FPS         int
}

// Clip is rendered output. Exactly one of Video or Frames is populated:
// the neural service returns an encoded video segment, the placeholder
// returns individual frame images.
type Clip struct {
	Video  []byte
	Frames [][]byte
	Width  int
	Height int
	FPS    int
	// Placeholder is true when the clip came from the fallback renderer.
	Placeholder bool
}

// FrameParams describe a single live frame to render.
type FrameParams struct {
	ReferenceID string
	Model       Model
	Frame       motion.Frame
	Width       int
	Height      int
}

// ClipRenderer renders a whole utterance. Both backends and the
// placeholder satisfy it; the job orchestrator picks per job config.
type ClipRenderer interface {
	RenderClip(ctx context.Context, req ClipRequest) (*Clip, error)
}

// FrameRenderer renders one frame at a time, for live sessions.
type FrameRenderer interface {
	RenderFrame(ctx context.Context, p FrameParams) ([]byte, error)
}

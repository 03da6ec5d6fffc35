// Package live runs interactive avatar sessions: text arrives over a
// transport, speech and motion are synthesized on the fly, and frames are
// pushed back at a steady cadence with quality adapted to the client's
// bandwidth.
package live

import "time"

// Quality is one rung of the adaptive ladder.
type Quality struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	FPS          int   `json:"fps"`
	VideoBitrate int64 `json:"video_bitrate"`
}

// FrameInterval is the target wall-clock spacing between frames.
func (q Quality) FrameInterval() time.Duration {
	if q.FPS <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(q.FPS)
}

// Ladder rungs, lowest first.
var (
	Quality360  = Quality{Width: 640, Height: 360, FPS: 15, VideoBitrate: 300_000}
	Quality480  = Quality{Width: 854, Height: 480, FPS: 24, VideoBitrate: 700_000}
	Quality720  = Quality{Width: 1280, Height: 720, FPS: 30, VideoBitrate: 1_500_000}
	Quality1080 = Quality{Width: 1920, Height: 1080, FPS: 30, VideoBitrate: 3_000_000}
)

// PickQuality selects a ladder rung for an estimated downlink in bits per
// second. Zero or negative means unknown and selects the 720p default.
func PickQuality(bps int64) Quality {
	switch {
	case bps <= 0:
		return Quality720
	case bps < 500_000:
		return Quality360
	case bps < 1_000_000:
		return Quality480
	case bps < 2_500_000:
		return Quality720
	default:
		return Quality1080
	}
}

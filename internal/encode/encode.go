// Package encode muxes rendered output and speech audio into an MP4 by
// shelling out to ffmpeg. Video segments from the neural renderer are
// stream-copied; placeholder frame sequences are encoded with libx264.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/render"
)

// CheckFFmpeg verifies ffmpeg is on PATH. Called once at startup so a
// missing binary fails fast instead of failing the first job.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// Muxer turns clips into MP4 files inside a job's scratch directory.
type Muxer struct {
	log zerolog.Logger
}

// NewMuxer creates a Muxer.
func NewMuxer(log zerolog.Logger) *Muxer {
	return &Muxer{log: log.With().Str("component", "encode").Logger()}
}

// Mux combines the clip with WAV audio into an MP4 at outPath, using
// scratchDir for intermediate files. The caller owns both paths. I/O or
// ffmpeg failures are returned as-is; there is no fallback at this stage.
func (m *Muxer) Mux(ctx context.Context, clip *render.Clip, wav []byte, scratchDir, outPath string) error {
	audioPath := filepath.Join(scratchDir, "speech.wav")
	if err := os.WriteFile(audioPath, wav, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}

	var args []string
	switch {
	case len(clip.Video) > 0:
		videoPath := filepath.Join(scratchDir, "segment.bin")
		if err := os.WriteFile(videoPath, clip.Video, 0o644); err != nil {
			return fmt.Errorf("write video segment: %w", err)
		}
		args = []string{
			"-y",
			"-i", videoPath,
			"-i", audioPath,
			"-c:v", "copy",
			"-c:a", "aac",
			"-shortest",
			outPath,
		}
	case len(clip.Frames) > 0:
		framesDir := filepath.Join(scratchDir, "frames")
		if err := os.MkdirAll(framesDir, 0o755); err != nil {
			return fmt.Errorf("create frames dir: %w", err)
		}
		for i, f := range clip.Frames {
			p := filepath.Join(framesDir, fmt.Sprintf("frame_%05d.png", i))
			if err := os.WriteFile(p, f, 0o644); err != nil {
				return fmt.Errorf("write frame %d: %w", i, err)
			}
		}
		fps := clip.FPS
		if fps <= 0 {
			fps = 30
		}
		args = []string{
			"-y",
			"-framerate", strconv.Itoa(fps),
			"-i", filepath.Join(framesDir, "frame_%05d.png"),
			"-i", audioPath,
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-shortest",
			outPath,
		}
	default:
		return fmt.Errorf("clip has neither video nor frames")
	}

	m.log.Debug().Str("out", outPath).Int("frames", len(clip.Frames)).
		Bool("segment", len(clip.Video) > 0).Msg("Muxing clip")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.Bytes(), 512))
	}
	return nil
}

// tail keeps the end of ffmpeg's stderr, where the actual error lives.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}

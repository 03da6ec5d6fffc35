package encode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/render"
)

func TestMuxRejectsEmptyClip(t *testing.T) {
	m := NewMuxer(zerolog.Nop())
	dir := t.TempDir()
	err := m.Mux(context.Background(), &render.Clip{}, []byte("wav"), dir, filepath.Join(dir, "out.mp4"))
	if err == nil {
		t.Error("expected error for clip with no content")
	}
}

func TestMuxWritesIntermediates(t *testing.T) {
	// ffmpeg may be absent in CI; only the staging of inputs is checked.
	m := NewMuxer(zerolog.Nop())
	dir := t.TempDir()

	clip := &render.Clip{Frames: [][]byte{[]byte("png1"), []byte("png2")}, FPS: 30}
	_ = m.Mux(context.Background(), clip, []byte("wav-bytes"), dir, filepath.Join(dir, "out.mp4"))

	if _, err := os.Stat(filepath.Join(dir, "speech.wav")); err != nil {
		t.Errorf("audio not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "frames", "frame_00000.png")); err != nil {
		t.Errorf("frames not staged: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "frames", "frame_00001.png")); err != nil {
		t.Errorf("second frame not staged: %v", err)
	}
}

func TestMuxStagesVideoSegment(t *testing.T) {
	m := NewMuxer(zerolog.Nop())
	dir := t.TempDir()

	clip := &render.Clip{Video: []byte("segment")}
	_ = m.Mux(context.Background(), clip, []byte("wav"), dir, filepath.Join(dir, "out.mp4"))

	if _, err := os.Stat(filepath.Join(dir, "segment.bin")); err != nil {
		t.Errorf("segment not staged: %v", err)
	}
}

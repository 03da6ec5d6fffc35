package motion

import (
	"math"
	"testing"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/viseme"
)

func sine(duration float64, rate int) []float64 {
	s := make([]float64, int(duration*float64(rate)))
	for i := range s {
		s[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	return s
}

func TestSynthesizeFrameCount(t *testing.T) {
	words := align.Estimate("Hello there.", 1.0)
	frames := Synthesize(words, sine(1.0, 22050), Options{FPS: 30, SampleRate: 22050})
	if len(frames) != 30 {
		t.Fatalf("got %d frames, want 30", len(frames))
	}
	for i, f := range frames {
		if f.Index != i {
			t.Errorf("frame %d has index %d", i, f.Index)
		}
		want := float64(i) / 30.0
		if math.Abs(f.Timestamp-want) > 1e-9 {
			t.Errorf("frame %d timestamp = %f, want %f", i, f.Timestamp, want)
		}
	}
}

func TestSynthesizeSpeechMovesMouth(t *testing.T) {
	words := align.Estimate("aaaa", 1.0)
	frames := Synthesize(words, sine(1.0, 22050), Options{FPS: 30, SampleRate: 22050})

	var peak float64
	for _, f := range frames {
		if f.BlendShapes[viseme.MouthOpen] > peak {
			peak = f.BlendShapes[viseme.MouthOpen]
		}
	}
	if peak <= 0 {
		t.Error("mouth never opened during speech")
	}
}

func TestSynthesizeSilentAudioHalvesOpening(t *testing.T) {
	words := align.Estimate("aaaa", 1.0)
	quiet := Synthesize(words, make([]float64, 22050), Options{FPS: 30, SampleRate: 22050})
	loud := Synthesize(words, onesAudio(22050), Options{FPS: 30, SampleRate: 22050})

	mid := 15
	q, l := quiet[mid].BlendShapes[viseme.MouthOpen], loud[mid].BlendShapes[viseme.MouthOpen]
	if q >= l {
		t.Errorf("quiet opening %f not below loud opening %f", q, l)
	}
	if q < 0.3*l {
		t.Errorf("quiet opening %f collapsed relative to loud %f", q, l)
	}
}

func onesAudio(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func TestSynthesizeNoWordsIsSilence(t *testing.T) {
	frames := Synthesize(nil, sine(0.5, 22050), Options{FPS: 30, SampleRate: 22050})
	if len(frames) != 15 {
		t.Fatalf("got %d frames, want 15", len(frames))
	}
	for _, f := range frames {
		if f.Viseme != viseme.Silence {
			t.Errorf("frame %d viseme = %s, want sil", f.Index, f.Viseme)
		}
		if f.Intensity != 0 {
			t.Errorf("frame %d intensity = %f, want 0", f.Index, f.Intensity)
		}
	}
}

func TestSynthesizeDegenerateWordSpan(t *testing.T) {
	words := []align.WordTiming{{
		Word: "x", Start: 0.5, End: 0.5,
		Phonemes: []align.Phoneme{{Code: "X", Start: 0.5, End: 0.5}},
	}}
	frames := Synthesize(words, sine(1.0, 22050), Options{FPS: 30, SampleRate: 22050})
	for _, f := range frames {
		if f.Viseme != viseme.Silence {
			t.Errorf("frame %d viseme = %s for zero-span word, want sil", f.Index, f.Viseme)
		}
	}
}

func TestEnvelope(t *testing.T) {
	if got := envelope(0.5, 0, 1); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("mid-phoneme envelope = %f, want 1.0", got)
	}
	if got := envelope(0, 0, 1); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("phoneme-start envelope = %f, want 0.8", got)
	}
	if got := envelope(0.3, 0.5, 0.5); got != 0 {
		t.Errorf("zero-span envelope = %f, want 0", got)
	}
}

func TestSmoothingReducesJitter(t *testing.T) {
	// Alternating open/shut frames; smoothing must pull neighbors together.
	frames := make([]Frame, 20)
	for i := range frames {
		v := 0.0
		if i%2 == 0 {
			v = 1.0
		}
		frames[i] = Frame{
			Index:       i,
			Intensity:   v,
			BlendShapes: map[viseme.Channel]float64{viseme.MouthOpen: v},
		}
	}

	smooth(frames, 2)

	var maxDelta float64
	for i := 1; i < len(frames); i++ {
		d := math.Abs(frames[i].BlendShapes[viseme.MouthOpen] - frames[i-1].BlendShapes[viseme.MouthOpen])
		if d > maxDelta {
			maxDelta = d
		}
	}
	if maxDelta >= 1.0 {
		t.Errorf("max frame-to-frame delta = %f, smoothing had no effect", maxDelta)
	}
}

func TestSilenceFrames(t *testing.T) {
	frames := SilenceFrames(0.5, 30)
	if len(frames) != 15 {
		t.Fatalf("got %d frames, want 15", len(frames))
	}
	for _, f := range frames {
		if f.Viseme != viseme.Silence || f.Intensity != 0 {
			t.Errorf("frame %d not at rest: %s/%f", f.Index, f.Viseme, f.Intensity)
		}
	}

	if got := SilenceFrames(0, 30); len(got) != 1 {
		t.Errorf("zero-duration silence produced %d frames, want 1", len(got))
	}
}

func TestSynthesizeDefaults(t *testing.T) {
	frames := Synthesize(align.Estimate("hi", 1.0), sine(1.0, 22050), Options{})
	if len(frames) != DefaultFPS {
		t.Errorf("got %d frames with defaults, want %d", len(frames), DefaultFPS)
	}
}

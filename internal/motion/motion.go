// Package motion synthesizes per-frame facial animation from aligned speech.
// Each output frame carries the active viseme, an intensity envelope and the
// blend-shape channel values, sampled at a fixed frame rate and smoothed to
// remove jitter between neighboring frames.
package motion

import (
	"math"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/audio"
	"github.com/sushil32/Neura/internal/viseme"
)

// DefaultFPS is the frame rate used when a caller does not specify one.
const DefaultFPS = 30

// Frame is one animation frame on the output timeline.
type Frame struct {
	Index       int                        `json:"index"`
	Timestamp   float64                    `json:"timestamp"`
	Viseme      viseme.Viseme              `json:"viseme"`
	Intensity   float64                    `json:"intensity"`
	BlendShapes map[viseme.Channel]float64 `json:"blend_shapes"`
}

// Options configure a synthesis run. Zero values select defaults.
type Options struct {
	FPS        int
	SampleRate int
}

func (o *Options) defaults() {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
}

// Synthesize renders the frame timeline for aligned words over the audio.
// The timeline covers the longer of the audio and the word timings, floored
// at 0.1s; each frame looks up the phoneme active
// at its timestamp, shapes its intensity with an attack/release envelope
// over the phoneme's span, scales the opening channels by the short-time
// audio amplitude, and finally smooths every channel with a small moving
// average. Words with non-positive spans and gaps between words render as
// silence frames.
func Synthesize(words []align.WordTiming, samples []float64, opts Options) []Frame {
	opts.defaults()

	duration := audio.Duration(samples, opts.SampleRate)
	for _, w := range words {
		if w.End > duration {
			duration = w.End
		}
	}
	if duration < 0.1 {
		duration = 0.1
	}
	frameCount := int(duration * float64(opts.FPS))
	if frameCount <= 0 {
		return nil
	}

	frames := make([]Frame, frameCount)
	frameDur := 1.0 / float64(opts.FPS)
	window := opts.SampleRate / opts.FPS

	for i := range frames {
		t := float64(i) * frameDur

		ph, ok := phonemeAt(words, t)
		v := viseme.Silence
		intensity := 0.0
		if ok {
			v = viseme.ForPhoneme(ph.Code)
			intensity = envelope(t, ph.Start, ph.End)
		}

		start := i * window
		amp := audio.RMS(samples, start, start+window) * 3
		if amp > 1 {
			amp = 1
		}

		frames[i] = Frame{
			Index:       i,
			Timestamp:   t,
			Viseme:      v,
			Intensity:   intensity,
			BlendShapes: viseme.BlendShapes(v, intensity, amp),
		}
	}

	smooth(frames, smoothingRadius(opts.FPS))
	return frames
}

// SilenceFrames returns a resting-face timeline of the given duration,
// used when there is no speech to animate.
func SilenceFrames(duration float64, fps int) []Frame {
	if fps <= 0 {
		fps = DefaultFPS
	}
	n := int(duration * float64(fps))
	if n <= 0 {
		n = 1
	}
	frames := make([]Frame, n)
	for i := range frames {
		frames[i] = Frame{
			Index:       i,
			Timestamp:   float64(i) / float64(fps),
			Viseme:      viseme.Silence,
			BlendShapes: viseme.BlendShapes(viseme.Silence, 0, 0),
		}
	}
	return frames
}

// phonemeAt finds the phoneme whose span contains t. Zero-length or
// inverted spans never match, so degenerate words fall through to silence.
func phonemeAt(words []align.WordTiming, t float64) (align.Phoneme, bool) {
	for _, w := range words {
		if t < w.Start || t >= w.End || w.End <= w.Start {
			continue
		}
		for _, p := range w.Phonemes {
			if t >= p.Start && t < p.End {
				return p, true
			}
		}
		// Inside the word but between phoneme spans from float drift:
		// use the last phoneme.
		if len(w.Phonemes) > 0 {
			return w.Phonemes[len(w.Phonemes)-1], true
		}
	}
	return align.Phoneme{}, false
}

// envelope shapes intensity over a phoneme's span: a half-sine rise and
// fall on top of a 0.8 floor, peaking mid-phoneme. Keeps consonant onsets
// visible without the mouth snapping fully open and shut.
func envelope(t, start, end float64) float64 {
	span := end - start
	if span <= 0 {
		return 0
	}
	progress := (t - start) / span
	return 0.8 + 0.2*math.Sin(progress*math.Pi)
}

// smoothingRadius picks the moving-average half-width for a frame rate.
// Roughly 80ms of smoothing regardless of fps, never less than one frame.
func smoothingRadius(fps int) int {
	r := fps / 12
	if r < 1 {
		r = 1
	}
	return r
}

// smooth applies a symmetric moving average of the given radius to every
// blend-shape channel and the intensity, in place. The window shrinks at
// the timeline edges.
func smooth(frames []Frame, radius int) {
	if len(frames) < 2 || radius < 1 {
		return
	}

	type snapshot struct {
		intensity float64
		channels  map[viseme.Channel]float64
	}
	prev := make([]snapshot, len(frames))
	for i, f := range frames {
		prev[i] = snapshot{intensity: f.Intensity, channels: f.BlendShapes}
	}

	for i := range frames {
		lo := i - radius
		if lo < 0 {
			lo = 0
		}
		hi := i + radius
		if hi >= len(frames) {
			hi = len(frames) - 1
		}
		n := float64(hi - lo + 1)

		var intensity float64
		sums := make(map[viseme.Channel]float64, len(viseme.Channels))
		for j := lo; j <= hi; j++ {
			intensity += prev[j].intensity
			for _, ch := range viseme.Channels {
				sums[ch] += prev[j].channels[ch]
			}
		}

		frames[i].Intensity = intensity / n
		smoothed := make(map[viseme.Channel]float64, len(viseme.Channels))
		for _, ch := range viseme.Channels {
			smoothed[ch] = sums[ch] / n
		}
		frames[i].BlendShapes = smoothed
	}
}

// Package speech turns text into audio by calling an external
// text-to-speech service. When the service is unreachable the synthesizer
// degrades to silent audio sized from the text length, so downstream
// stages always receive a timeline to work with.
package speech

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/audio"
)

// Request describes one synthesis call.
type Request struct {
	Text     string
	VoiceID  string
	Language string
	Speed    float64 // 0 means the service default
}

// WordTiming is a word timestamp reported by the synthesis service.
// Services that do not report timings leave the slice empty and the
// aligner estimates them instead.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is synthesized speech audio plus provenance.
type Result struct {
	Samples     []float64
	SampleRate  int
	Duration    float64
	WordTimings []WordTiming
	// Degraded is true when the audio is a silence fallback rather than
	// real synthesis output.
	Degraded bool
}

// Engine produces audio from text. Implementations may fail; the
// Synthesizer handles the fallback.
type Engine interface {
	Speak(ctx context.Context, req Request) (*Result, error)
}

// Synthesizer wraps an Engine with the silence fallback.
type Synthesizer struct {
	engine Engine
	log    zerolog.Logger
}

// New creates a Synthesizer. A nil engine is valid and means every
// request takes the fallback path.
func New(engine Engine, log zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		engine: engine,
		log:    log.With().Str("component", "speech").Logger(),
	}
}

// Synthesize returns audio for the request. On engine failure it returns
// silence of the estimated spoken duration with Degraded set, never an
// error, unless the context itself was canceled.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if s.engine != nil {
		res, err := s.engine.Speak(ctx, req)
		if err == nil && res != nil && len(res.Samples) > 0 {
			if res.SampleRate <= 0 {
				res.SampleRate = audio.DefaultSampleRate
			}
			if res.Duration <= 0 {
				res.Duration = audio.Duration(res.Samples, res.SampleRate)
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			s.log.Warn().Err(err).Str("voice", req.VoiceID).Msg("Speech synthesis failed, falling back to silence")
		}
	}

	dur := audio.EstimateDuration(req.Text)
	return &Result{
		Samples:    audio.Silence(dur, audio.DefaultSampleRate),
		SampleRate: audio.DefaultSampleRate,
		Duration:   dur,
		Degraded:   true,
	}, nil
}

// Package align produces word and phoneme timings for spoken text. An
// acoustic backend supplies word timestamps when one is configured and
// reachable; otherwise timings are estimated from character counts. Either
// way the caller always gets a usable timeline.
package align

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// EstimateConfidence is reported on timings produced without acoustic
// evidence, so downstream consumers can tell the two apart.
const EstimateConfidence = 0.7

// Phoneme is a phonetic unit with absolute timestamps in seconds.
type Phoneme struct {
	Code  string  `json:"code"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordTiming is one spoken word with its time span and phoneme breakdown.
type WordTiming struct {
	Word       string    `json:"word"`
	Start      float64   `json:"start"`
	End        float64   `json:"end"`
	Confidence float64   `json:"confidence"`
	Phonemes   []Phoneme `json:"phonemes"`
}

// Backend produces word-level timestamps from audio. Implementations may
// fail; the Aligner falls back to estimation when they do.
type Backend interface {
	AlignWords(ctx context.Context, text string, samples []float64, sampleRate int) ([]WordTiming, error)
}

// Aligner turns text plus audio into a phoneme timeline.
type Aligner struct {
	backend Backend
	log     zerolog.Logger
}

// New creates an Aligner. A nil backend is valid and means
// estimation-only operation.
func New(backend Backend, log zerolog.Logger) *Aligner {
	return &Aligner{
		backend: backend,
		log:     log.With().Str("component", "align").Logger(),
	}
}

// Align returns per-word timings with phoneme subdivisions covering the
// audio. When the acoustic backend is absent or errors, timings are
// estimated proportionally to character counts and marked with
// EstimateConfidence. The only failure mode is context cancellation;
// empty text yields an empty slice and no error.
func (a *Aligner) Align(ctx context.Context, text string, samples []float64, sampleRate int) ([]WordTiming, error) {
	duration := 0.0
	if sampleRate > 0 {
		duration = float64(len(samples)) / float64(sampleRate)
	}

	if a.backend != nil {
		words, err := a.backend.AlignWords(ctx, text, samples, sampleRate)
		if err == nil && len(words) > 0 {
			return FillPhonemes(words), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("Acoustic alignment failed, using estimated timings")
		}
	}

	return Estimate(text, duration), nil
}

// Estimate distributes duration across the words of text in proportion to
// their character counts, then subdivides each word evenly into phonemes.
// All timings carry EstimateConfidence.
func Estimate(text string, duration float64) []WordTiming {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if duration <= 0 {
		duration = 0.1
	}

	total := 0
	for _, w := range words {
		total += len(w)
	}
	if total == 0 {
		total = len(words)
	}

	out := make([]WordTiming, 0, len(words))
	cursor := 0.0
	for _, w := range words {
		share := float64(len(w)) / float64(total)
		if len(w) == 0 {
			share = 1.0 / float64(total)
		}
		span := share * duration
		wt := WordTiming{
			Word:       w,
			Start:      cursor,
			End:        cursor + span,
			Confidence: EstimateConfidence,
		}
		wt.Phonemes = subdivide(w, wt.Start, wt.End)
		out = append(out, wt)
		cursor += span
	}
	// Absorb float drift so the last word ends exactly at the duration.
	out[len(out)-1].End = duration
	last := out[len(out)-1].Phonemes
	if len(last) > 0 {
		last[len(last)-1].End = duration
	}
	return out
}

// FillPhonemes subdivides the span of any word that lacks a phoneme
// breakdown. Words that already carry phonemes are left untouched, so
// timings from an acoustic service and rule-based subdivision can mix.
func FillPhonemes(words []WordTiming) []WordTiming {
	for i := range words {
		if len(words[i].Phonemes) == 0 {
			words[i].Phonemes = subdivide(words[i].Word, words[i].Start, words[i].End)
		}
	}
	return words
}

// subdivide splits a word's span evenly across its phonemes.
func subdivide(word string, start, end float64) []Phoneme {
	codes := Phonemize(word)
	if end <= start {
		end = start
	}
	step := (end - start) / float64(len(codes))
	out := make([]Phoneme, len(codes))
	for i, c := range codes {
		out[i] = Phoneme{
			Code:  c,
			Start: start + float64(i)*step,
			End:   start + float64(i+1)*step,
		}
	}
	return out
}

// digraphs are consonant pairs that form a single phonetic unit.
var digraphs = map[string]bool{
	"TH": true, "SH": true, "CH": true,
	"WH": true, "PH": true, "NG": true,
}

// Phonemize decomposes a word into phoneme codes with a deterministic rule
// table: known digraphs stay together, vowels become doubled codes ("a"
// yields "AA"), other letters pass through uppercased, and non-letters are
// dropped. A word with no letters yields a single neutral vowel.
func Phonemize(word string) []string {
	up := strings.ToUpper(word)
	var codes []string
	for i := 0; i < len(up); i++ {
		c := up[i]
		if c < 'A' || c > 'Z' {
			continue
		}
		if i+1 < len(up) && digraphs[up[i:i+2]] {
			codes = append(codes, up[i:i+2])
			i++
			continue
		}
		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			codes = append(codes, string([]byte{c, c}))
		default:
			codes = append(codes, string(c))
		}
	}
	if len(codes) == 0 {
		codes = []string{"AA"}
	}
	return codes
}

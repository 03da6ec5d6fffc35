package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/audio"
	"github.com/sushil32/Neura/internal/metrics"
	"github.com/sushil32/Neura/internal/motion"
	"github.com/sushil32/Neura/internal/render"
	"github.com/sushil32/Neura/internal/speech"
	"github.com/sushil32/Neura/internal/viseme"
)

// ErrBusy is returned by Say when the utterance queue is full.
var ErrBusy = errors.New("session busy")

// Transport delivers session output to the client. Implementations are
// called from the session goroutine only.
type Transport interface {
	SendFrame(frame []byte, timestamp float64) error
	SendAudio(wav []byte) error
	// Bandwidth is the client's estimated downlink in bits per second,
	// or 0 when unknown.
	Bandwidth() int64
}

// Options configure a session.
type Options struct {
	Speech  *speech.Synthesizer
	Aligner *align.Aligner
	// Frames renders one frame at a time; nil selects the placeholder.
	Frames  render.FrameRenderer
	FaceID  string
	VoiceID string
	Model   render.Model

	// QueueSize bounds utterances waiting to be spoken. Default 8.
	QueueSize int
	// FailureLimit is the number of consecutive frame failures after
	// which the session ends. Default 30, about a second of output.
	FailureLimit int

	Log zerolog.Logger
}

// Stats is a point-in-time snapshot of session output.
type Stats struct {
	FramesSent int64         `json:"frames_sent"`
	BytesSent  int64         `json:"bytes_sent"`
	Viseme     viseme.Viseme `json:"viseme"`
	Intensity  float64       `json:"intensity"`
	Quality    Quality       `json:"quality"`
}

// Session streams one avatar to one client.
type Session struct {
	ID string

	transport Transport
	opts      Options
	texts     chan string
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	framesSent atomic.Int64
	bytesSent  atomic.Int64

	mu        sync.Mutex
	viseme    viseme.Viseme
	intensity float64
	quality   Quality
	lastFrame []byte
	endErr    error
}

// NewSession creates a session over the transport. Start begins the
// speaking loop.
func NewSession(transport Transport, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.FailureLimit <= 0 {
		opts.FailureLimit = 30
	}
	if opts.Frames == nil {
		opts.Frames = render.NewPlaceholder()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		ID:        id,
		transport: transport,
		opts:      opts,
		texts:     make(chan string, opts.QueueSize),
		log:       opts.Log.With().Str("component", "live").Str("session_id", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		viseme:    viseme.Silence,
		quality:   PickQuality(transport.Bandwidth()),
	}
}

// Start launches the speaking loop.
func (s *Session) Start() { go s.loop() }

// Say queues an utterance. ErrBusy when the queue is full, an error when
// the session has ended.
func (s *Session) Say(text string) error {
	select {
	case <-s.done:
		return errors.New("session ended")
	default:
	}
	select {
	case s.texts <- text:
		return nil
	default:
		return ErrBusy
	}
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() { s.cancel() }

// Done is closed when the speaking loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended, nil for a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Stats returns a snapshot of the session's output counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		FramesSent: s.framesSent.Load(),
		BytesSent:  s.bytesSent.Load(),
		Viseme:     s.viseme,
		Intensity:  s.intensity,
		Quality:    s.quality,
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.texts:
			if err := s.speak(text); err != nil {
				s.mu.Lock()
				s.endErr = err
				s.mu.Unlock()
				s.cancel()
				s.log.Warn().Err(err).Msg("session ended on error")
				return
			}
		}
	}
}

// speak synthesizes one utterance and streams its frames at the target
// cadence. A renderer miss re-sends the last good frame so the stream
// never stalls; too many consecutive misses end the session.
func (s *Session) speak(text string) error {
	sres, err := s.opts.Speech.Synthesize(s.ctx, speech.Request{Text: text, VoiceID: s.opts.VoiceID})
	if err != nil {
		return err
	}

	wav, err := audio.EncodeWAV(sres.Samples, sres.SampleRate)
	if err != nil {
		return err
	}
	if err := s.transport.SendAudio(wav); err != nil {
		return err
	}
	s.bytesSent.Add(int64(len(wav)))

	var words []align.WordTiming
	if len(sres.WordTimings) > 0 {
		words = make([]align.WordTiming, len(sres.WordTimings))
		for i, wt := range sres.WordTimings {
			words[i] = align.WordTiming{Word: wt.Word, Start: wt.Start, End: wt.End, Confidence: 1.0}
		}
		words = align.FillPhonemes(words)
	} else {
		words, err = s.opts.Aligner.Align(s.ctx, text, sres.Samples, sres.SampleRate)
		if err != nil {
			return err
		}
	}

	// Re-pick quality per utterance so bandwidth changes take effect at
	// a clean boundary.
	q := PickQuality(s.transport.Bandwidth())
	s.mu.Lock()
	s.quality = q
	s.mu.Unlock()

	frames := motion.Synthesize(words, sres.Samples, motion.Options{
		FPS:        q.FPS,
		SampleRate: sres.SampleRate,
	})

	interval := q.FrameInterval()
	failures := 0
	lastSend := time.Time{}

	for _, f := range frames {
		if s.ctx.Err() != nil {
			return nil
		}
		start := time.Now()

		img, rerr := s.renderFrame(f, q, interval)
		if rerr != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			failures++
			if failures >= s.opts.FailureLimit {
				return rerr
			}
			// Hold the last good frame rather than dropping a beat.
			s.mu.Lock()
			img = s.lastFrame
			s.mu.Unlock()
		} else {
			failures = 0
			s.mu.Lock()
			s.lastFrame = img
			s.mu.Unlock()
		}

		if len(img) > 0 {
			if err := s.transport.SendFrame(img, f.Timestamp); err != nil {
				return err
			}
			s.framesSent.Add(1)
			s.bytesSent.Add(int64(len(img)))
			metrics.LiveFramesSentTotal.Inc()
			if !lastSend.IsZero() {
				metrics.LiveFrameInterval.Observe(time.Since(lastSend).Seconds())
			}
			lastSend = time.Now()
		}

		s.mu.Lock()
		s.viseme = f.Viseme
		s.intensity = f.Intensity
		s.mu.Unlock()

		if sleep := interval - time.Since(start); sleep > 0 {
			t := time.NewTimer(sleep)
			select {
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				return nil
			}
		}
	}

	s.mu.Lock()
	s.viseme = viseme.Silence
	s.intensity = 0
	s.mu.Unlock()
	return nil
}

// renderFrame bounds one renderer call to a single frame interval. A
// renderer that overruns the deadline counts as a miss even if it would
// eventually return a frame, so a slow backend cannot stall the cadence.
// The call runs on its own goroutine because the renderer may not honor
// context cancellation; the buffered channel lets a late result be
// dropped without blocking it.
func (s *Session) renderFrame(f motion.Frame, q Quality, deadline time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(s.ctx, deadline)
	defer cancel()

	type result struct {
		img []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		img, err := s.opts.Frames.RenderFrame(ctx, render.FrameParams{
			ReferenceID: s.opts.FaceID,
			Model:       s.opts.Model,
			Frame:       f,
			Width:       q.Width,
			Height:      q.Height,
		})
		ch <- result{img: img, err: err}
	}()

	select {
	case r := <-ch:
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

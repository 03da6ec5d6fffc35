package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/align"
	"github.com/sushil32/Neura/internal/assets"
	"github.com/sushil32/Neura/internal/audio"
	"github.com/sushil32/Neura/internal/credits"
	"github.com/sushil32/Neura/internal/events"
	"github.com/sushil32/Neura/internal/metrics"
	"github.com/sushil32/Neura/internal/motion"
	"github.com/sushil32/Neura/internal/render"
	"github.com/sushil32/Neura/internal/speech"
	"github.com/sushil32/Neura/internal/storage"
)

// Progress value at the start of each step. Each step owns the band from
// its own mark to the next step's mark.
const (
	progressInit     = 0.0
	progressSpeech   = 0.1
	progressMotion   = 0.3
	progressRender   = 0.4
	progressEncode   = 0.8
	progressFinalize = 0.95
)

// renderMaxAttempts bounds calls to the neural renderer before the
// placeholder takes over.
const renderMaxAttempts = 3

// ClipMuxer combines a rendered clip and WAV audio into an MP4.
// encode.Muxer is the production implementation.
type ClipMuxer interface {
	Mux(ctx context.Context, clip *render.Clip, wav []byte, scratchDir, outPath string) error
}

// OrchestratorOptions wires the pipeline's collaborators. Speech, Muxer,
// Artifacts and Store are required; everything else is optional and its
// absence selects a fallback or disables the concern.
type OrchestratorOptions struct {
	Store     Store
	Speech    *speech.Synthesizer
	Aligner   *align.Aligner
	Renderer  render.ClipRenderer // nil means placeholder-only output
	Muxer     ClipMuxer
	Artifacts storage.ArtifactStore
	Assets    *assets.Catalog
	Estimator *credits.Estimator
	Charger   credits.Charger
	Bus       *events.Bus

	ScratchDir string
	// RetryBackoff is the base delay between render attempts; attempt n
	// waits n times this. Zero selects one second.
	RetryBackoff time.Duration

	Log zerolog.Logger
}

// Orchestrator runs one job through the full pipeline: init, speech,
// motion, render, encode, finalize.
type Orchestrator struct {
	store       Store
	speech      *speech.Synthesizer
	aligner     *align.Aligner
	renderer    render.ClipRenderer
	placeholder *render.Placeholder
	muxer       ClipMuxer
	artifacts   storage.ArtifactStore
	assets      *assets.Catalog
	estimator   *credits.Estimator
	charger     credits.Charger
	bus         *events.Bus
	scratchDir  string
	backoff     time.Duration
	log         zerolog.Logger
}

// NewOrchestrator creates an Orchestrator from options.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.ScratchDir == "" {
		opts.ScratchDir = "./scratch"
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Orchestrator{
		store:       opts.Store,
		speech:      opts.Speech,
		aligner:     opts.Aligner,
		renderer:    opts.Renderer,
		placeholder: render.NewPlaceholder(),
		muxer:       opts.Muxer,
		artifacts:   opts.Artifacts,
		assets:      opts.Assets,
		estimator:   opts.Estimator,
		charger:     opts.Charger,
		bus:         opts.Bus,
		scratchDir:  opts.ScratchDir,
		backoff:     opts.RetryBackoff,
		log:         opts.Log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the job to a terminal status and persists every state
// change. The returned error reflects why a job failed or was cancelled;
// a completed job returns nil.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	log := o.log.With().Str("job_id", job.ID).Logger()
	started := time.Now()

	scratch := filepath.Join(o.scratchDir, job.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return o.finishErr(job, Fatal("init", fmt.Errorf("create scratch dir: %w", err)), log)
	}
	defer os.RemoveAll(scratch)

	now := time.Now().UTC()
	job.StartedAt = &now
	if err := o.setProgress(ctx, job, "init", progressInit); err != nil {
		return o.finishErr(job, err, log)
	}
	if err := o.runInit(ctx, job, log); err != nil {
		return o.finishErr(job, err, log)
	}

	if err := o.setProgress(ctx, job, "speech", progressSpeech); err != nil {
		return o.finishErr(job, err, log)
	}
	sres, err := o.runSpeech(ctx, job, log)
	if err != nil {
		return o.finishErr(job, err, log)
	}

	if err := o.setProgress(ctx, job, "motion", progressMotion); err != nil {
		return o.finishErr(job, err, log)
	}
	frames, err := o.runMotion(ctx, job, sres)
	if err != nil {
		return o.finishErr(job, err, log)
	}

	wav, err := audio.EncodeWAV(sres.Samples, sres.SampleRate)
	if err != nil {
		return o.finishErr(job, Fatal("motion", fmt.Errorf("encode audio: %w", err)), log)
	}

	if err := o.setProgress(ctx, job, "render", progressRender); err != nil {
		return o.finishErr(job, err, log)
	}
	clip, err := o.runRender(ctx, job, wav, frames, log)
	if err != nil {
		return o.finishErr(job, err, log)
	}

	if err := o.setProgress(ctx, job, "encode", progressEncode); err != nil {
		return o.finishErr(job, err, log)
	}
	outPath, err := o.runEncode(ctx, job, clip, wav, scratch)
	if err != nil {
		return o.finishErr(job, err, log)
	}

	if err := o.setProgress(ctx, job, "finalize", progressFinalize); err != nil {
		return o.finishErr(job, err, log)
	}
	if err := o.runFinalize(ctx, job, outPath, log); err != nil {
		return o.finishErr(job, err, log)
	}

	o.complete(job)
	log.Info().
		Str("artifact_key", job.ArtifactKey).
		Bool("degraded", job.Degraded).
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Msg("job completed")
	return nil
}

// runInit validates references and reserves credits.
func (o *Orchestrator) runInit(ctx context.Context, job *Job, log zerolog.Logger) error {
	defer observeStep("init", time.Now())

	if strings.TrimSpace(job.Text) == "" {
		return Fatal("init", errors.New("job has no text"))
	}
	if o.assets != nil {
		if job.FaceID == "" {
			return Fatal("init", errors.New("face reference required"))
		}
		if _, err := o.assets.ResolveFace(job.FaceID); err != nil {
			return Fatal("init", err)
		}
		// Voices may live on the speech service rather than in the local
		// catalog, so an unknown voice only warns.
		if job.VoiceID != "" {
			if _, err := o.assets.ResolveVoice(job.VoiceID); err != nil {
				log.Warn().Str("voice_id", job.VoiceID).Msg("voice not in local catalog, deferring to speech service")
			}
		}
	}

	if o.estimator != nil {
		job.Credits = o.estimator.Estimate(job.Text, job.Height)
	}
	if o.charger != nil {
		if err := o.charger.Charge(ctx, job.UserID, job.ID, job.Credits); err != nil {
			return Fatal("init", fmt.Errorf("reserve credits: %w", err))
		}
	}
	return nil
}

// runSpeech synthesizes audio for the job text. The synthesizer degrades
// to silence on engine failure, which marks the job degraded but keeps it
// moving.
func (o *Orchestrator) runSpeech(ctx context.Context, job *Job, log zerolog.Logger) (*speech.Result, error) {
	defer observeStep("speech", time.Now())

	res, err := o.speech.Synthesize(ctx, speech.Request{Text: job.Text, VoiceID: job.VoiceID})
	if err != nil {
		return nil, Retryable("speech", err)
	}
	if res.Degraded {
		job.Degraded = true
		log.Warn().Msg("speech degraded to silence")
	}
	return res, nil
}

// runMotion builds the word timeline and synthesizes animation frames.
// Timings reported by the speech service win over alignment; absent those,
// the aligner supplies acoustic or estimated timings.
func (o *Orchestrator) runMotion(ctx context.Context, job *Job, sres *speech.Result) ([]motion.Frame, error) {
	defer observeStep("motion", time.Now())

	var words []align.WordTiming
	if len(sres.WordTimings) > 0 {
		words = make([]align.WordTiming, len(sres.WordTimings))
		for i, wt := range sres.WordTimings {
			words[i] = align.WordTiming{Word: wt.Word, Start: wt.Start, End: wt.End, Confidence: 1.0}
		}
		words = align.FillPhonemes(words)
	} else if o.aligner != nil {
		var err error
		words, err = o.aligner.Align(ctx, job.Text, sres.Samples, sres.SampleRate)
		if err != nil {
			return nil, Retryable("motion", err)
		}
	} else {
		words = align.Estimate(job.Text, sres.Duration)
	}

	frames := motion.Synthesize(words, sres.Samples, motion.Options{
		FPS:        job.FPS,
		SampleRate: sres.SampleRate,
	})
	if len(frames) == 0 {
		return nil, Fatal("motion", errors.New("empty motion timeline"))
	}
	return frames, nil
}

// runRender asks the neural renderer for a clip, retrying transient
// failures with increasing backoff, and falls back to the placeholder
// renderer when the service stays down or rejects the reference.
func (o *Orchestrator) runRender(ctx context.Context, job *Job, wav []byte, frames []motion.Frame, log zerolog.Logger) (*render.Clip, error) {
	defer observeStep("render", time.Now())

	req := render.ClipRequest{
		JobID:       job.ID,
		Model:       job.Model,
		ReferenceID: job.FaceID,
		AudioWAV:    wav,
		Frames:      frames,
		Width:       job.Width,
		Height:      job.Height,
		FPS:         job.FPS,
	}

	if o.renderer != nil {
		var lastErr error
		for attempt := 1; attempt <= renderMaxAttempts; attempt++ {
			clip, err := o.renderer.RenderClip(ctx, req)
			if err == nil {
				return clip, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, Retryable("render", ctx.Err())
			}
			if errors.Is(err, render.ErrNotFound) {
				break
			}
			if attempt < renderMaxAttempts {
				metrics.JobStepRetriesTotal.WithLabelValues("render").Inc()
				log.Warn().Err(err).Int("attempt", attempt).Msg("render attempt failed, retrying")
				if serr := sleepCtx(ctx, time.Duration(attempt)*o.backoff); serr != nil {
					return nil, Retryable("render", serr)
				}
			}
		}
		log.Warn().Err(lastErr).Msg("neural render exhausted, using placeholder")
	}

	clip, err := o.placeholder.RenderClip(ctx, req)
	if err != nil {
		return nil, Fatal("render", err)
	}
	job.Degraded = true
	return clip, nil
}

// runEncode muxes the clip and audio into the final MP4. Encoding
// failures are fatal; there is nothing left to fall back to.
func (o *Orchestrator) runEncode(ctx context.Context, job *Job, clip *render.Clip, wav []byte, scratch string) (string, error) {
	defer observeStep("encode", time.Now())

	outPath := filepath.Join(scratch, "output.mp4")
	if err := o.muxer.Mux(ctx, clip, wav, scratch, outPath); err != nil {
		return "", Fatal("encode", err)
	}
	return outPath, nil
}

// runFinalize persists the artifact and settles the credit reservation.
func (o *Orchestrator) runFinalize(ctx context.Context, job *Job, outPath string, log zerolog.Logger) error {
	defer observeStep("finalize", time.Now())

	data, err := os.ReadFile(outPath)
	if err != nil {
		return Fatal("finalize", fmt.Errorf("read output: %w", err))
	}
	key := ArtifactKeyFor(job.ID)
	if err := o.artifacts.Save(ctx, key, data, "video/mp4"); err != nil {
		return Fatal("finalize", fmt.Errorf("save artifact: %w", err))
	}
	job.ArtifactKey = key

	if o.charger != nil {
		if err := o.charger.Settle(ctx, job.UserID, job.ID); err != nil {
			log.Warn().Err(err).Msg("credit settle failed")
		}
	}
	return nil
}

func (o *Orchestrator) complete(job *Job) {
	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Progress = 1.0
	job.CurrentStep = ""
	job.CompletedAt = &now
	o.updateDetached(job)

	metrics.JobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	if job.Degraded {
		metrics.JobsDegradedTotal.Inc()
	}
	o.publish("completed", job)
}

// finishErr drives the job to its failure-side terminal status. A
// cancelled context means the user cancelled; everything else fails the
// job with the error recorded. The credit reservation is released either
// way.
func (o *Orchestrator) finishErr(job *Job, err error, log zerolog.Logger) error {
	status := StatusFailed
	if errors.Is(err, context.Canceled) {
		status = StatusCancelled
	}

	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	if status == StatusFailed {
		job.Error = err.Error()
	}
	o.updateDetached(job)

	if o.charger != nil && job.Credits > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if rerr := o.charger.Release(ctx, job.UserID, job.ID); rerr != nil {
			log.Warn().Err(rerr).Msg("credit release failed")
		}
		cancel()
	}

	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	o.publish(string(status), job)

	if status == StatusCancelled {
		log.Info().Str("step", job.CurrentStep).Msg("job cancelled")
	} else {
		log.Warn().Err(err).Str("step", job.CurrentStep).Str("kind", KindOf(err).String()).Msg("job failed")
	}
	return err
}

// setProgress moves the job into a step and persists the new progress
// mark. Cancellation is checked here so each step boundary is a
// cancellation point.
func (o *Orchestrator) setProgress(ctx context.Context, job *Job, step string, progress float64) error {
	if err := ctx.Err(); err != nil {
		return Retryable(step, err)
	}
	job.Status = StatusProcessing
	job.CurrentStep = step
	job.Progress = progress
	if err := o.store.Update(ctx, job); err != nil {
		return Fatal(step, fmt.Errorf("persist progress: %w", err))
	}
	o.publish("progress", job)
	return nil
}

// updateDetached persists a terminal state on a fresh context, so a
// cancelled job context cannot block its own final write.
func (o *Orchestrator) updateDetached(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Update(ctx, job); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("terminal state update failed")
	}
}

func (o *Orchestrator) publish(subType string, job *Job) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.EventData{
		Type:    "job",
		SubType: subType,
		JobID:   job.ID,
		Payload: map[string]any{
			"status":       job.Status,
			"progress":     job.Progress,
			"current_step": job.CurrentStep,
			"degraded":     job.Degraded,
			"error":        job.Error,
			"artifact_key": job.ArtifactKey,
		},
	})
	metrics.EventsPublishedTotal.Inc()
}

func observeStep(step string, start time.Time) {
	metrics.JobStepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

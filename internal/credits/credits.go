// Package credits estimates and charges the cost of rendering work.
// Accounting itself lives behind the Charger interface; this package ships
// the local estimator and a no-op charger for deployments without billing.
package credits

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/audio"
)

// BaseRate is the cost in credits per second of output video at the
// reference resolution.
const BaseRate = 1.0

// Estimator prices a job before it runs.
type Estimator struct {
	rate float64
}

// NewEstimator creates an estimator. A non-positive rate selects BaseRate.
func NewEstimator(rate float64) *Estimator {
	if rate <= 0 {
		rate = BaseRate
	}
	return &Estimator{rate: rate}
}

// Estimate prices rendering the text at the given output height. Duration
// comes from the speaking-rate heuristic, scaled by the resolution
// multiplier and rounded up to a whole credit.
func (e *Estimator) Estimate(text string, height int) float64 {
	dur := audio.EstimateDuration(text)
	return math.Ceil(dur * e.rate * ResolutionMultiplier(height))
}

// ResolutionMultiplier scales cost with output height. Higher resolutions
// cost more render time on the neural backend.
func ResolutionMultiplier(height int) float64 {
	switch {
	case height <= 0:
		return 1.0
	case height <= 360:
		return 0.5
	case height <= 480:
		return 0.75
	case height <= 720:
		return 1.0
	case height <= 1080:
		return 1.5
	default:
		return 2.5
	}
}

// Charger records credit movements. Charge reserves at submission,
// Settle confirms at successful completion, Release returns the
// reservation when a job fails or is cancelled.
type Charger interface {
	Charge(ctx context.Context, userID, jobID string, amount float64) error
	Settle(ctx context.Context, userID, jobID string) error
	Release(ctx context.Context, userID, jobID string) error
}

// NoopCharger satisfies Charger without an accounting backend. Movements
// are logged so operators can still audit usage.
type NoopCharger struct {
	log zerolog.Logger
}

// NewNoopCharger creates a NoopCharger.
func NewNoopCharger(log zerolog.Logger) *NoopCharger {
	return &NoopCharger{log: log.With().Str("component", "credits").Logger()}
}

func (c *NoopCharger) Charge(_ context.Context, userID, jobID string, amount float64) error {
	c.log.Info().Str("user_id", userID).Str("job_id", jobID).Float64("amount", amount).Msg("Credits reserved")
	return nil
}

func (c *NoopCharger) Settle(_ context.Context, userID, jobID string) error {
	c.log.Info().Str("user_id", userID).Str("job_id", jobID).Msg("Credits settled")
	return nil
}

func (c *NoopCharger) Release(_ context.Context, userID, jobID string) error {
	c.log.Info().Str("user_id", userID).Str("job_id", jobID).Msg("Credits released")
	return nil
}

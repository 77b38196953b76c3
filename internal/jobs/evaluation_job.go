// Package jobs runs background work inside the API process.
//
// EvaluationJob calls an evaluator on a fixed interval. A tick that fires
// while the previous pass is still running is skipped, so passes never
// overlap within one process. Overlap between processes is handled by rule
// leases in the engine.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-alerts-backend/internal/services"
)

// Evaluator runs one evaluation pass.
type Evaluator interface {
	RunOnce(ctx context.Context) (*services.EvaluationReport, error)
}

// EvaluationJob schedules evaluation passes.
type EvaluationJob struct {
	Eval     Evaluator
	Interval time.Duration
	Logger   *zerolog.Logger

	running atomic.Bool
	passes  atomic.Int64
	skipped atomic.Int64
}

// Run blocks until ctx is cancelled. The first pass starts immediately.
func (j *EvaluationJob) Run(ctx context.Context) {
	lg := j.logger()
	if j.Interval <= 0 {
		lg.Info().Msg("evaluation job disabled")
		return
	}
	lg.Info().Dur("interval", j.Interval).Msg("evaluation job started")

	t := time.NewTicker(j.Interval)
	defer t.Stop()

	j.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			lg.Info().Int64("passes", j.passes.Load()).Int64("skipped", j.skipped.Load()).Msg("evaluation job stopped")
			return
		case <-t.C:
			go j.Tick(ctx)
		}
	}
}

// Tick runs one pass unless one is already in flight. It reports whether a
// pass ran.
func (j *EvaluationJob) Tick(ctx context.Context) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		j.logger().Debug().Msg("previous evaluation pass still running; tick skipped")
		return false
	}
	defer j.running.Store(false)

	j.passes.Add(1)
	rep, err := j.Eval.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.logger().Error().Err(err).Msg("evaluation pass failed")
		}
		return true
	}
	j.logger().Info().
		Int("candidates", rep.Candidates).
		Int("evaluated", rep.Evaluated).
		Int("triggered", rep.Triggered).
		Int("skipped", rep.Skipped).
		Int("errors", rep.Errors).
		Int("locked", rep.Locked).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("evaluation pass finished")
	return true
}

// Stats returns the number of passes run and ticks skipped so far.
func (j *EvaluationJob) Stats() (passes, skipped int64) {
	return j.passes.Load(), j.skipped.Load()
}

func (j *EvaluationJob) logger() *zerolog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	l := log.With().Str("component", "evaluation_job").Logger()
	return &l
}

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cyclecount/internal"
	"cyclecount/internal/logging"
	"cyclecount/internal/tabular"
)

var ErrNoLines = errors.New("reconcile: session has no sampled lines")

// LineStore is the slice of the session repository the engine needs.
type LineStore interface {
	Lines(ctx context.Context, sessionID string) ([]internal.SampledLine, error)
	UpdateLines(ctx context.Context, sessionID string, fn func([]internal.SampledLine) ([]internal.SampledLine, error)) tabular.Result
}

type Options struct {
	RequireDistinctValidator bool
	Clock                    func() time.Time
}

type Engine struct {
	store           LineStore
	log             *zap.Logger
	now             func() time.Time
	requireDistinct bool
}

func NewEngine(store LineStore, log *zap.Logger, opts Options) *Engine {
	e := &Engine{
		store:           store,
		log:             logging.OrNop(log).Named("reconcile"),
		now:             opts.Clock,
		requireDistinct: opts.RequireDistinctValidator,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) SubmitCounts(ctx context.Context, sessionID, countedBy string, entries []internal.CountEntry) internal.Outcome {
	return e.run(ctx, sessionID, "counts", func(lines []internal.SampledLine) MergeResult {
		return ApplyCounts(lines, entries, countedBy)
	})
}

func (e *Engine) SubmitJustifications(ctx context.Context, sessionID string, entries []internal.JustificationEntry) internal.Outcome {
	return e.run(ctx, sessionID, "justifications", func(lines []internal.SampledLine) MergeResult {
		return ApplyJustifications(lines, entries)
	})
}

func (e *Engine) SubmitValidations(ctx context.Context, sessionID, validator string, entries []internal.ValidationEntry) internal.Outcome {
	opts := ValidationOptions{Validator: validator, At: e.now(), RequireDistinct: e.requireDistinct}
	return e.run(ctx, sessionID, "validations", func(lines []internal.SampledLine) MergeResult {
		return ApplyValidations(lines, entries, opts)
	})
}

func (e *Engine) Lines(ctx context.Context, sessionID string) ([]internal.SampledLine, error) {
	return e.store.Lines(ctx, sessionID)
}

// run merges under the store's read-modify-write. The merge may be replayed
// on fresher rows, so only the last result is reported.
func (e *Engine) run(ctx context.Context, sessionID, what string, merge func([]internal.SampledLine) MergeResult) internal.Outcome {
	var last MergeResult
	res := e.store.UpdateLines(ctx, sessionID, func(lines []internal.SampledLine) ([]internal.SampledLine, error) {
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoLines, sessionID)
		}
		last = merge(lines)
		if last.Changed == 0 {
			return nil, tabular.ErrNoChange
		}
		return last.Lines, nil
	})

	warnings := last.Warnings()
	if !res.OK {
		out := res.Outcome(sessionID)
		out.Message = fmt.Sprintf("%s not saved: %s", what, res.Message)
		out.Warnings = warnings
		return out
	}

	for _, w := range warnings {
		e.log.Warn("entry ignored", zap.String("session", sessionID), zap.String("step", what), zap.String("detail", w))
	}
	e.log.Info("entries merged", zap.String("session", sessionID), zap.String("step", what),
		zap.Int("matched", last.Matched), zap.Int("changed", last.Changed), zap.Int("ignored", len(warnings)))
	return internal.Outcome{
		Status:    internal.OutcomeSuccess,
		SessionID: sessionID,
		Rows:      last.Changed,
		Message:   fmt.Sprintf("%s: %d lines matched, %d changed", what, last.Matched, last.Changed),
		Warnings:  warnings,
	}
}

package audit

import (
	"context"
	"log/slog"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// Recorder persists a single fact. Store and the queue publisher both satisfy it.
type Recorder interface {
	Record(ctx context.Context, fact authz.Fact) error
}

// DecisionObserver receives a count for every emitted fact.
type DecisionObserver interface {
	ObserveDecision(action, outcome string)
}

// Sink fans an authorization fact out to the logger, metrics and the recorder.
// Recording failures are logged and never surface to the caller; the
// administrative change has already been committed when Emit runs.
type Sink struct {
	recorder Recorder
	logger   *slog.Logger
	metrics  DecisionObserver
}

// NewSink builds a sink. Any argument may be nil.
func NewSink(recorder Recorder, logger *slog.Logger, metrics DecisionObserver) *Sink {
	return &Sink{recorder: recorder, logger: logger, metrics: metrics}
}

// Emit records the fact.
func (s *Sink) Emit(ctx context.Context, fact authz.Fact) {
	if s == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(fact.Action, string(fact.Outcome))
	}
	if s.logger != nil {
		attrs := []any{
			slog.String("action", fact.Action),
			slog.Int64("actor_id", fact.ActorID),
			slog.String("outcome", string(fact.Outcome)),
		}
		if fact.Target != nil {
			attrs = append(attrs, slog.String("target_type", fact.Target.TargetType()), slog.String("target_id", fact.Target.TargetID()))
		}
		if fact.Outcome == authz.OutcomeDenied {
			s.logger.InfoContext(ctx, "admin action denied", append(attrs, slog.String("reason", fact.Reason))...)
		} else {
			s.logger.InfoContext(ctx, "admin action approved", attrs...)
		}
	}
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, fact); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "audit record failed", slog.String("action", fact.Action), slog.Any("error", err))
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kinoteka/kinoteka/internal/authz"
	jobmetrics "github.com/kinoteka/kinoteka/internal/jobs"
)

// Enqueuer is the subset of *asynq.Client used by the publisher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskAuditEnqueue labels publisher metrics.
const TaskAuditEnqueue = "audit:enqueue"

// AuditPublisher hands audit facts to the worker instead of writing them inline.
type AuditPublisher struct {
	client  Enqueuer
	metrics *jobmetrics.Metrics
}

// NewAuditPublisher constructs the publisher. metrics may be nil.
func NewAuditPublisher(client Enqueuer, metrics *jobmetrics.Metrics) *AuditPublisher {
	return &AuditPublisher{client: client, metrics: metrics}
}

// Record enqueues the fact on the audit queue.
func (p *AuditPublisher) Record(ctx context.Context, fact authz.Fact) error {
	tracker := p.metrics.Track(TaskAuditEnqueue)
	task, err := NewAuditRecordTask(uuid.NewString(), fact)
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: build audit task: %w", err))
	}
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		return tracker.End(fmt.Errorf("jobs: enqueue audit task: %w", err))
	}
	return tracker.End(nil)
}

// FactRecorder persists audit facts.
type FactRecorder interface {
	Record(ctx context.Context, fact authz.Fact) error
}

// AuditRecordJob persists queued audit facts.
type AuditRecordJob struct {
	Recorder FactRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAuditRecordJob constructs the job handler.
func NewAuditRecordJob(recorder FactRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecordJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle executes the audit record job.
func (j *AuditRecordJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.Metrics.Track(TaskAuditRecord)
	var payload AuditRecordPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.Logger.Error("audit task payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
	}
	fact, err := payload.Fact()
	if err != nil {
		j.Logger.Error("audit task target", slog.String("id", payload.ID), slog.Any("error", err))
		return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
	}
	if err := j.Recorder.Record(ctx, fact); err != nil {
		j.Logger.Warn("audit task record", slog.String("id", payload.ID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.ObserveFact(fact.Action, string(fact.Outcome))
	return tracker.End(nil)
}

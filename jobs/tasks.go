package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kinoteka/kinoteka/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit records emitted by the admin API.
	QueueAudit = "audit"
	// TaskAuditRecord persists one audit fact.
	TaskAuditRecord = "audit:record"
)

// AuditRecordPayload is the queued form of an authz.Fact.
type AuditRecordPayload struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	ActorID    int64          `json:"actor_id"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Old        map[string]any `json:"old,omitempty"`
	New        map[string]any `json:"new,omitempty"`
	Outcome    string         `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

// NewAuditRecordTask wraps the fact in an asynq task. id doubles as the task id
// so a retried enqueue does not record the fact twice.
func NewAuditRecordTask(id string, fact authz.Fact) (*asynq.Task, error) {
	payload := AuditRecordPayload{
		ID:      id,
		Action:  fact.Action,
		ActorID: fact.ActorID,
		Old:     fact.Old,
		New:     fact.New,
		Outcome: string(fact.Outcome),
		Reason:  fact.Reason,
		At:      fact.At,
	}
	if fact.Target != nil {
		payload.TargetType = fact.Target.TargetType()
		payload.TargetID = fact.Target.TargetID()
	}
	if payload.At.IsZero() {
		payload.At = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, body, asynq.Queue(QueueAudit), asynq.TaskID(id), asynq.MaxRetry(10)), nil
}

// Fact rebuilds the audit fact carried by the payload.
func (p AuditRecordPayload) Fact() (authz.Fact, error) {
	target, err := authz.ParseTarget(p.TargetType, p.TargetID)
	if err != nil {
		return authz.Fact{}, err
	}
	return authz.Fact{
		Action:  p.Action,
		ActorID: p.ActorID,
		Target:  target,
		Old:     p.Old,
		New:     p.New,
		Outcome: authz.Outcome(p.Outcome),
		Reason:  p.Reason,
		At:      p.At,
	}, nil
}

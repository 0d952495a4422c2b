package domain

import "time"

type AuditKind string

const (
	AuditJobCreated      AuditKind = "job.created"
	AuditJobAccepted     AuditKind = "job.accepted"
	AuditJobEnRoute      AuditKind = "job.en_route"
	AuditJobStarted      AuditKind = "job.started"
	AuditJobSteppedBack  AuditKind = "job.stepped_back"
	AuditJobCompleted    AuditKind = "job.completed"
	AuditJobCancelled    AuditKind = "job.cancelled"
	AuditJobReopened     AuditKind = "job.reopened"
	AuditJobReassigned   AuditKind = "job.reassigned"
	AuditJobRepriced     AuditKind = "job.repriced"
	AuditArtifactAdded   AuditKind = "job.artifact_attached"
	AuditPaymentHeld     AuditKind = "payment.held"
	AuditPaymentCaptured AuditKind = "payment.captured"
	AuditPaymentRefunded AuditKind = "payment.refunded"
)

// AuditEntry is one immutable line in a job's conversation thread. Seq is
// the job version the entry describes, so entries sort in the same order
// the changes were committed.
type AuditEntry struct {
	ID        string    `json:"id" bson:"id"`
	JobID     string    `json:"job_id" bson:"job_id"`
	Seq       int64     `json:"seq" bson:"seq"`
	Kind      AuditKind `json:"kind" bson:"kind"`
	ActorID   string    `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	ActorRole Role      `json:"actor_role,omitempty" bson:"actor_role,omitempty"`
	Message   string    `json:"message" bson:"message"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies which handler processes a job.
type JobType string

const (
	// JobDraftAndSearch drafts a plan and retrieves similar past decisions.
	JobDraftAndSearch JobType = "DRAFT_AND_SEARCH"
	// JobExtractAndEmbed extracts insights and indexes a completed decision.
	JobExtractAndEmbed JobType = "EXTRACT_AND_EMBED"
)

// JobStatus is the queue state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// MaxJobAttempts bounds total claim attempts per job. A job whose
// retry_count reaches this value is dead: it stays failed and is never
// claimed again.
const MaxJobAttempts = 3

// Job is one durable unit of background work. The job row is the single
// point of mutual exclusion between workers: the claim statement is the only
// operation requiring atomic access.
type Job struct {
	ID          uuid.UUID  `json:"id"`
	Type        JobType    `json:"type"`
	Payload     JobPayload `json:"payload"`
	Status      JobStatus  `json:"status"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt time.Time  `json:"next_retry_at"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobPayload is the opaque structured blob carried by a job. Both current
// job types reference a single decision.
type JobPayload struct {
	DecisionID uuid.UUID `json:"decision_id"`
}

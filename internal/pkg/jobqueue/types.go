package jobqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// JobType selects the handler a job is dispatched to.
type JobType string

const (
	JobTypeSendReceiptEmail JobType = "send_receipt_email"
	JobTypeReconcileBalance JobType = "reconcile_balance"
)

// JobStatus is the lifecycle state stored with a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the record kept under the job key while the job is alive.
// Completed jobs are deleted, failed ones expire with JobTTL.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	RunAt       *time.Time      `json:"run_at,omitempty"`
}

var errEmptyPayload = errors.New("job has no payload")

// Decode unmarshals the payload into out.
func (j *Job) Decode(out interface{}) error {
	if len(j.Payload) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(j.Payload, out)
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// retryDelay doubles base per attempt, capped at maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// ReceiptEmailJobPayload carries what the receipt mail needs, so the
// worker does not have to look the transaction up again.
type ReceiptEmailJobPayload struct {
	UserID        string `json:"user_id"`
	TransactionID uint   `json:"transaction_id"`
	Tokens        int64  `json:"tokens"`
	Description   string `json:"description"`
}

// ReconcileBalanceJobPayload names the user whose cached balance is
// recomputed from the ledger.
type ReconcileBalanceJobPayload struct {
	UserID string `json:"user_id"`
}

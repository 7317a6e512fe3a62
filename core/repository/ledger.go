package repository

import "context"

// Operation names recorded in the ledger
const (
	OperationArchive = "archive"
)

// Operation is an idempotency entry for one irreversible step on one job.
// It is written before the step runs and completed with the step's result
// (for archiving, the cold storage archive id) as soon as the step succeeds.
type Operation struct {
	Key         string `dynamodbav:"op_key"`
	JobID       string `dynamodbav:"job_id"`
	Name        string `dynamodbav:"operation"`
	Result      string `dynamodbav:"result,omitempty"`
	StartedAt   int64  `dynamodbav:"started_at"`
	CompletedAt int64  `dynamodbav:"completed_at,omitempty"`
}

// Done reports whether the step finished and its result was recorded
func (o *Operation) Done() bool {
	return o.CompletedAt != 0
}

// OperationKey builds the ledger key for a job and operation
func OperationKey(jobID, name string) string {
	return name + "#" + jobID
}

// OperationLedger records idempotency keys per (job_id, operation)
type OperationLedger interface {
	// Begin creates the entry if it does not exist. It returns the stored entry
	// and whether this call created it.
	Begin(ctx context.Context, jobID, name string) (*Operation, bool, error)
	// Complete records the result of a begun operation
	Complete(ctx context.Context, jobID, name, result string) error
}

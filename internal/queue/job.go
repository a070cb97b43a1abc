package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

// ErrLeaseLost is returned by Ack, Nack and Release when the job's lease
// expired and another worker claimed it.
var ErrLeaseLost = errors.New("queue: lease lost")

// Options tune a single enqueue.
type Options struct {
	// Priority orders available jobs; higher runs first.
	Priority int
	// Delay postpones the first attempt.
	Delay time.Duration
	// MaxAttempts overrides the queue policy for this job.
	MaxAttempts int
}

// EnqueueResult acknowledges a submission. Created is false when a live job
// with the same id already existed and the call was a no-op.
type EnqueueResult struct {
	JobID   string `json:"jobId"`
	Created bool   `json:"created"`
}

// BulkJob is one entry of EnqueueBulk.
type BulkJob struct {
	JobID   string
	Payload any
	Options Options
}

// Stats counts the jobs of a queue by status.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Job is a leased unit of work.
type Job struct {
	ID          uuid.UUID
	Queue       enums.QueueName
	JobID       string
	Payload     json.RawMessage
	Attempt     int
	MaxAttempts int
	Priority    int
	EnqueuedAt  time.Time
	leaseToken  string
}

// Decode unmarshals the payload into v. A malformed payload is a validation
// error so the job is not retried.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode job payload")
	}
	return nil
}

// LastAttempt reports whether a failure now would be terminal.
func (j *Job) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

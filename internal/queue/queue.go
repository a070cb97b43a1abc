// Package queue is a durable, Postgres-backed job queue with at-least-once
// delivery. Jobs are leased with SELECT ... FOR UPDATE SKIP LOCKED and become
// visible again when the lease expires. A leased job cannot be cancelled; it
// runs to completion, failure or lease expiry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

const jobIDConstraint = "ux_queue_jobs_queue_job_id"

const maxErrorLength = 2000

// Queue is one named queue stored in the queue_jobs table.
type Queue struct {
	name     enums.QueueName
	db       *gorm.DB
	policy   Policy
	validate *validator.Validate
	now      func() time.Time
}

// New builds a queue handle. Handles are cheap; producers and workers of the
// same queue may each hold their own.
func New(db *gorm.DB, name enums.QueueName, policy Policy) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if !name.IsValid() {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return &Queue{
		name:     name,
		db:       db,
		policy:   policy.normalized(),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() enums.QueueName {
	return q.name
}

// Policy returns the effective retry policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Enqueue submits a job. While a job with the same id is waiting, delayed or
// active the call is a no-op; a finished job with that id is revived.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload any, opts Options) (EnqueueResult, error) {
	jobID = strings.TrimSpace(jobID)
	result := EnqueueResult{JobID: jobID}
	if jobID == "" {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	raw, err := q.encode(payload)
	if err != nil {
		return result, err
	}

	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := q.enqueueTx(tx, jobID, raw, opts)
		result.Created = created
		return err
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, jobIDConstraint) {
			result.Created = false
			return result, nil
		}
		return result, fmt.Errorf("enqueue %s/%s: %w", q.name, jobID, err)
	}
	return result, nil
}

// EnqueueBulk submits many jobs. Each job is deduplicated independently; the
// first failure stops the batch and returns the results gathered so far.
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []BulkJob) ([]EnqueueResult, error) {
	results := make([]EnqueueResult, 0, len(jobs))
	for _, job := range jobs {
		res, err := q.Enqueue(ctx, job.JobID, job.Payload, job.Options)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (q *Queue) enqueueTx(tx *gorm.DB, jobID string, raw json.RawMessage, opts Options) (bool, error) {
	now := q.now()
	status := enums.QueueJobStatusWaiting
	availableAt := now
	if opts.Delay > 0 {
		status = enums.QueueJobStatusDelayed
		availableAt = now.Add(opts.Delay)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.policy.MaxAttempts
	}

	var existing models.QueueJob
	err := tx.Where("queue_name = ? AND job_id = ?", q.name, jobID).Take(&existing).Error
	switch {
	case err == nil:
		if !existing.Status.IsFinished() {
			return false, nil
		}
		res := tx.Model(&models.QueueJob{}).
			Where("id = ? AND status IN ?", existing.ID, finishedStatuses()).
			Updates(map[string]any{
				"payload":          raw,
				"priority":         opts.Priority,
				"status":           status,
				"attempts":         0,
				"max_attempts":     maxAttempts,
				"available_at":     availableAt,
				"lease_token":      nil,
				"lease_expires_at": nil,
				"last_error":       nil,
				"finished_at":      nil,
				"updated_at":       now,
			})
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := models.QueueJob{
			ID:          uuid.New(),
			Queue:       q.name,
			JobID:       jobID,
			Payload:     raw,
			Priority:    opts.Priority,
			Status:      status,
			MaxAttempts: maxAttempts,
			AvailableAt: availableAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, err
	}
}

func (q *Queue) encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job payload is required")
	}
	if isStruct(payload) {
		if err := q.validate.Struct(payload); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job payload").
				WithDetails(map[string]any{"queue": q.name.String()})
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode job payload")
	}
	return raw, nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

// Stats returns the job counts per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status enums.QueueJobStatus
		Count  int64
	}
	err := q.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Select("status, COUNT(*) AS count").
		Where("queue_name = ?", q.name).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats %s: %w", q.name, err)
	}

	var stats Stats
	for _, row := range rows {
		switch row.Status {
		case enums.QueueJobStatusWaiting:
			stats.Waiting = row.Count
		case enums.QueueJobStatusActive:
			stats.Active = row.Count
		case enums.QueueJobStatusCompleted:
			stats.Completed = row.Count
		case enums.QueueJobStatusFailed:
			stats.Failed = row.Count
		case enums.QueueJobStatusDelayed:
			stats.Delayed = row.Count
		}
	}
	return stats, nil
}

// Purge removes every job of the queue, including leased ones. Workers
// holding a purged job get ErrLeaseLost on ack.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("queue_name = ?", q.name).
		Delete(&models.QueueJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge %s: %w", q.name, res.Error)
	}
	return res.RowsAffected, nil
}

// Trim enforces the retention limits for finished jobs.
func (q *Queue) Trim(ctx context.Context) (int64, error) {
	completed, err := q.trimStatus(ctx, enums.QueueJobStatusCompleted, q.policy.KeepCompleted)
	if err != nil {
		return completed, err
	}
	failed, err := q.trimStatus(ctx, enums.QueueJobStatusFailed, q.policy.KeepFailed)
	return completed + failed, err
}

func (q *Queue) trimStatus(ctx context.Context, status enums.QueueJobStatus, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	newest := q.db.
		Model(&models.QueueJob{}).
		Select("id").
		Where("queue_name = ? AND status = ?", q.name, status).
		Order("finished_at DESC").
		Order("created_at DESC").
		Limit(keep)
	res := q.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", q.name, status).
		Where("id NOT IN (?)", newest).
		Delete(&models.QueueJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("trim %s %s: %w", q.name, status, res.Error)
	}
	return res.RowsAffected, nil
}

func finishedStatuses() []enums.QueueJobStatus {
	return []enums.QueueJobStatus{enums.QueueJobStatusCompleted, enums.QueueJobStatusFailed}
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	return msg[:maxErrorLength]
}

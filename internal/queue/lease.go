package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

// Lease claims the next available job, or returns nil when there is none.
// Waiting and due delayed jobs are eligible, as are active jobs whose lease
// expired. Higher priority wins, then the oldest job.
func (q *Queue) Lease(ctx context.Context) (*Job, error) {
	now := q.now()
	var leased *Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.QueueJob
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue_name = ?", q.name).
			Where("((status IN ? AND available_at <= ?) OR (status = ? AND lease_expires_at < ?))",
				[]enums.QueueJobStatus{enums.QueueJobStatusWaiting, enums.QueueJobStatusDelayed}, now,
				enums.QueueJobStatusActive, now).
			Order("priority DESC").
			Order("created_at ASC").
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		token := uuid.NewString()
		expires := now.Add(q.policy.Visibility)
		res := tx.Model(&models.QueueJob{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":           enums.QueueJobStatusActive,
				"attempts":         gorm.Expr("attempts + 1"),
				"lease_token":      token,
				"lease_expires_at": expires,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		leased = &Job{
			ID:          row.ID,
			Queue:       row.Queue,
			JobID:       row.JobID,
			Payload:     row.Payload,
			Attempt:     row.Attempts + 1,
			MaxAttempts: row.MaxAttempts,
			Priority:    row.Priority,
			EnqueuedAt:  row.CreatedAt,
			leaseToken:  token,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", q.name, err)
	}
	return leased, nil
}

// Ack marks the job completed and applies retention.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	now := q.now()
	if err := q.finish(ctx, job, map[string]any{
		"status":           enums.QueueJobStatusCompleted,
		"finished_at":      now,
		"last_error":       nil,
		"lease_token":      nil,
		"lease_expires_at": nil,
		"updated_at":       now,
	}); err != nil {
		return err
	}
	_, err := q.trimStatus(ctx, enums.QueueJobStatusCompleted, q.policy.KeepCompleted)
	return err
}

// Nack records a failed attempt. The job is rescheduled after retryDelay, or
// after the policy backoff when retryDelay is zero, unless attempts are
// exhausted or the cause is not retryable, in which case it fails for good.
func (q *Queue) Nack(ctx context.Context, job *Job, cause error, retryDelay time.Duration) (terminal bool, err error) {
	now := q.now()
	msg := "unknown error"
	if cause != nil {
		msg = truncateError(cause.Error())
	}

	terminal = job.LastAttempt() || (cause != nil && !pkgerrors.IsRetryable(cause))
	updates := map[string]any{
		"last_error":       msg,
		"lease_token":      nil,
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if terminal {
		updates["status"] = enums.QueueJobStatusFailed
		updates["finished_at"] = now
	} else {
		delay := retryDelay
		if delay <= 0 {
			delay = q.policy.Backoff(job.Attempt)
		}
		updates["status"] = enums.QueueJobStatusDelayed
		updates["available_at"] = now.Add(delay)
	}

	if err := q.finish(ctx, job, updates); err != nil {
		return terminal, err
	}
	if terminal {
		if _, err := q.trimStatus(ctx, enums.QueueJobStatusFailed, q.policy.KeepFailed); err != nil {
			return terminal, err
		}
	}
	return terminal, nil
}

// Release hands a leased job back without charging the attempt, e.g. when a
// worker shuts down mid-run.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	now := q.now()
	return q.finish(ctx, job, map[string]any{
		"status":           enums.QueueJobStatusWaiting,
		"attempts":         gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
		"available_at":     now,
		"lease_token":      nil,
		"lease_expires_at": nil,
		"updated_at":       now,
	})
}

func (q *Queue) finish(ctx context.Context, job *Job, updates map[string]any) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	res := q.db.WithContext(ctx).
		Model(&models.QueueJob{}).
		Where("id = ? AND status = ? AND lease_token = ?", job.ID, enums.QueueJobStatusActive, job.leaseToken).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update job %s/%s: %w", q.name, job.JobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

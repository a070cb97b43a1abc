package enums

import "slices"

// QueueJobStatus is the state of a durable queue job.
type QueueJobStatus string

const (
	QueueJobStatusWaiting   QueueJobStatus = "waiting"
	QueueJobStatusActive    QueueJobStatus = "active"
	QueueJobStatusDelayed   QueueJobStatus = "delayed"
	QueueJobStatusCompleted QueueJobStatus = "completed"
	QueueJobStatusFailed    QueueJobStatus = "failed"
)

var validQueueJobStatuses = []QueueJobStatus{
	QueueJobStatusWaiting,
	QueueJobStatusActive,
	QueueJobStatusDelayed,
	QueueJobStatusCompleted,
	QueueJobStatusFailed,
}

func (s QueueJobStatus) String() string {
	return string(s)
}

func (s QueueJobStatus) IsValid() bool {
	return slices.Contains(validQueueJobStatuses, s)
}

// IsFinished reports whether the job left the queue for good.
func (s QueueJobStatus) IsFinished() bool {
	return s == QueueJobStatusCompleted || s == QueueJobStatusFailed
}

func ParseQueueJobStatus(value string) (QueueJobStatus, error) {
	return parse(validQueueJobStatuses, value, "queue job status")
}

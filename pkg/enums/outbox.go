package enums

import "slices"

// Outbox enums mirror event_type_enum, aggregate_type_enum and
// outbox_dlq_error_reason_enum.
type (
	OutboxEventType      string
	OutboxAggregateType  string
	OutboxDLQErrorReason string
)

const (
	EventProfileMonitorCompleted OutboxEventType = "profile_monitor_completed"
	EventProfileMonitorFailed    OutboxEventType = "profile_monitor_failed"
	EventPostMetricsSnapshotted  OutboxEventType = "post_metrics_snapshotted"
)

const (
	AggregateProfile OutboxAggregateType = "profile"
	AggregatePost    OutboxAggregateType = "post"
)

const (
	// OutboxDLQReasonMaxAttempts marks a row that kept failing to publish.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable marks a row that can never be published.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var (
	validOutboxEventTypes = []OutboxEventType{EventProfileMonitorCompleted, EventProfileMonitorFailed, EventPostMetricsSnapshotted}
	validAggregateTypes   = []OutboxAggregateType{AggregateProfile, AggregatePost}
	validDLQReasons       = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}
)

func (e OutboxEventType) IsValid() bool      { return slices.Contains(validOutboxEventTypes, e) }
func (a OutboxAggregateType) IsValid() bool  { return slices.Contains(validAggregateTypes, a) }
func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(validDLQReasons, r) }

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parse(validOutboxEventTypes, raw, "event type")
}

func ParseOutboxAggregateType(raw string) (OutboxAggregateType, error) {
	return parse(validAggregateTypes, raw, "aggregate type")
}

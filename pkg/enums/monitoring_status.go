package enums

import "slices"

// MonitoringStatus tracks a single profile monitor run.
type MonitoringStatus string

const (
	MonitoringStatusPending   MonitoringStatus = "pending"
	MonitoringStatusRunning   MonitoringStatus = "running"
	MonitoringStatusCompleted MonitoringStatus = "completed"
	MonitoringStatusFailed    MonitoringStatus = "failed"
)

var validMonitoringStatuses = []MonitoringStatus{
	MonitoringStatusPending,
	MonitoringStatusRunning,
	MonitoringStatusCompleted,
	MonitoringStatusFailed,
}

func (m MonitoringStatus) String() string {
	return string(m)
}

func (m MonitoringStatus) IsValid() bool {
	return slices.Contains(validMonitoringStatuses, m)
}

func ParseMonitoringStatus(value string) (MonitoringStatus, error) {
	return parse(validMonitoringStatuses, value, "monitoring status")
}

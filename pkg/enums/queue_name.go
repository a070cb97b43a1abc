package enums

import "slices"

// QueueName identifies one of the durable work queues.
type QueueName string

const (
	QueueMediaCache     QueueName = "media-cache"
	QueueProfileMonitor QueueName = "profile-monitor"
)

var validQueueNames = []QueueName{
	QueueMediaCache,
	QueueProfileMonitor,
}

func (q QueueName) String() string {
	return string(q)
}

func (q QueueName) IsValid() bool {
	return slices.Contains(validQueueNames, q)
}

// ParseQueueName converts raw input (e.g. a URL segment) into a QueueName.
func ParseQueueName(value string) (QueueName, error) {
	return parse(validQueueNames, value, "queue name")
}

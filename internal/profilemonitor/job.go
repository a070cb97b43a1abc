package profilemonitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MonitorJob asks a worker to scrape every page of one profile.
type MonitorJob struct {
	ProfileID    uuid.UUID `json:"profileId" validate:"required"`
	ForceRecache bool      `json:"forceRecache"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// JobID is unique per submission so repeated runs of the same profile are
// not swallowed by the queue; the dedup window guards against bursts.
func (j MonitorJob) JobID() string {
	return fmt.Sprintf("%s-%d", j.ProfileID, j.SubmittedAt.UnixMilli())
}

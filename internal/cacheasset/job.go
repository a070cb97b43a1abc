package cacheasset

import (
	"github.com/google/uuid"
)

// CacheJob is the media-cache queue payload. Re-processing the same asset is
// convergent, so the asset id doubles as the job id.
type CacheJob struct {
	OriginalURL  string    `json:"originalUrl" validate:"required,url,max=4096"`
	CacheAssetID uuid.UUID `json:"cacheAssetId" validate:"required"`
	Folder       string    `json:"folder,omitempty" validate:"omitempty,max=64"`
	Filename     string    `json:"filename,omitempty" validate:"omitempty,max=128"`
}

// JobID is the queue job id for a first caching attempt.
func (j CacheJob) JobID() string {
	return j.CacheAssetID.String()
}

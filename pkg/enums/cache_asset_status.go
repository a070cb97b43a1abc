package enums

import "slices"

// CacheAssetStatus describes where a remote media URL is in the caching lifecycle.
type CacheAssetStatus string

const (
	CacheAssetStatusPending     CacheAssetStatus = "PENDING"
	CacheAssetStatusDownloading CacheAssetStatus = "DOWNLOADING"
	CacheAssetStatusCached      CacheAssetStatus = "CACHED"
	CacheAssetStatusFailed      CacheAssetStatus = "FAILED"
)

var validCacheAssetStatuses = []CacheAssetStatus{
	CacheAssetStatusPending,
	CacheAssetStatusDownloading,
	CacheAssetStatusCached,
	CacheAssetStatusFailed,
}

// String returns the literal string for the status.
func (s CacheAssetStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s CacheAssetStatus) IsValid() bool {
	return slices.Contains(validCacheAssetStatuses, s)
}

// IsTerminal reports whether the worker is done with the asset.
func (s CacheAssetStatus) IsTerminal() bool {
	return s == CacheAssetStatusCached || s == CacheAssetStatusFailed
}

// ParseCacheAssetStatus converts raw input into a CacheAssetStatus.
func ParseCacheAssetStatus(value string) (CacheAssetStatus, error) {
	return parse(validCacheAssetStatuses, value, "cache asset status")
}

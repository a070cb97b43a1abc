package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTripsEveryMember(t *testing.T) {
	for _, q := range validQueueNames {
		got, err := ParseQueueName(string(q))
		require.NoError(t, err)
		require.Equal(t, q, got)
	}
	for _, e := range validOutboxEventTypes {
		got, err := ParseOutboxEventType(string(e))
		require.NoError(t, err)
		require.True(t, got.IsValid())
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := ParseQueueName("media_cache")
	require.EqualError(t, err, `invalid queue name "media_cache"`)

	_, err = ParseOperatorRole("ADMIN")
	require.EqualError(t, err, `invalid operator role "ADMIN"`)

	require.False(t, OutboxDLQErrorReason("timeout").IsValid())
	require.True(t, OutboxDLQReasonNonRetryable.IsValid())
}

func TestStatusPredicates(t *testing.T) {
	require.True(t, CacheAssetStatusFailed.IsTerminal())
	require.False(t, CacheAssetStatusDownloading.IsTerminal())
	require.True(t, QueueJobStatusCompleted.IsFinished())
	require.False(t, QueueJobStatusDelayed.IsFinished())
}

package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	body, err := json.Marshal(map[string]any{
		"version":    1,
		"eventId":    "3d8a0c55-7d8c-4c7e-9f38-0b2b8ad2a4d1",
		"occurredAt": occurred,
		"data":       map[string]any{"profileId": "p1"},
	})
	require.NoError(t, err)

	env, err := DecodeEnvelope(body, map[string]string{
		AttrEventType:     " post_metrics_snapshotted ",
		AttrAggregateType: "profile",
		AttrAggregateID:   "p1",
		AttrEventID:       "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, "3d8a0c55-7d8c-4c7e-9f38-0b2b8ad2a4d1", env.EventID)
	require.Equal(t, enums.EventPostMetricsSnapshotted, env.EventType)
	require.Equal(t, enums.AggregateProfile, env.AggregateType)
	require.Equal(t, time.UTC, env.OccurredAt.Location())
	require.True(t, occurred.Equal(env.OccurredAt))
	require.JSONEq(t, `{"profileId":"p1"}`, string(env.Payload))
}

func TestDecodeEnvelopeFallsBackToAttributes(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"data":{}}`), map[string]string{
		AttrEventType:     "profile_monitor_failed",
		AttrAggregateType: "profile",
		AttrAggregateID:   "p1",
		AttrEventID:       "evt-attr",
		AttrCreatedAt:     "2026-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, "evt-attr", env.EventID)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), env.OccurredAt)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	valid := map[string]string{
		AttrEventType:     "profile_monitor_completed",
		AttrAggregateType: "profile",
		AttrAggregateID:   "p1",
		AttrEventID:       "evt-1",
	}
	with := func(key, value string) map[string]string {
		out := map[string]string{}
		for k, v := range valid {
			out[k] = v
		}
		out[key] = value
		return out
	}

	_, err := DecodeEnvelope([]byte("nope"), valid)
	require.ErrorContains(t, err, "decode payload envelope")

	_, err = DecodeEnvelope([]byte(`{}`), with(AttrEventType, "order_created"))
	require.ErrorContains(t, err, AttrEventType)

	_, err = DecodeEnvelope([]byte(`{}`), with(AttrAggregateType, "store"))
	require.ErrorContains(t, err, AttrAggregateType)

	_, err = DecodeEnvelope([]byte(`{}`), with(AttrAggregateID, " "))
	require.ErrorContains(t, err, "aggregate_id missing")

	_, err = DecodeEnvelope([]byte(`{}`), with(AttrEventID, ""))
	require.ErrorContains(t, err, "event_id missing")
}

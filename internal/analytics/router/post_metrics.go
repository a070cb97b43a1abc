package router

import (
	"cmp"
	"context"
	"fmt"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

// postMetrics writes one post_metrics row per snapshot in the event.
func (s sink) postMetrics(ctx context.Context, envelope types.Envelope, event *payloads.PostMetricsSnapshottedEvent) error {
	if len(event.Snapshots) == 0 {
		s.logg.Warn(ctx, "metrics snapshot event carried no posts")
		return nil
	}
	capturedAt := cmp.Or(event.CapturedAt.UTC(), envelope.OccurredAt)
	profileID, logID := event.ProfileID.String(), event.LogID.String()

	for i, snap := range event.Snapshots {
		rate, _ := snap.EngagementRate.Float64()
		err := s.writer.InsertPostMetric(ctx, types.PostMetricRow{
			EventID:        envelope.EventID,
			CapturedAt:     capturedAt,
			ProfileID:      profileID,
			MonitorLogID:   logID,
			Page:           int64(event.Page),
			PostID:         snap.PostID.String(),
			TiktokID:       snap.TiktokID,
			ViewCount:      snap.ViewCount,
			LikeCount:      snap.LikeCount,
			ShareCount:     snap.ShareCount,
			CommentCount:   snap.CommentCount,
			SaveCount:      snap.SaveCount,
			EngagementRate: rate,
		})
		if err != nil {
			return fmt.Errorf("insert post metric %d/%d (%s): %w", i+1, len(event.Snapshots), snap.TiktokID, err)
		}
	}
	return nil
}

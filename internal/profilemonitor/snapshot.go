package profilemonitor

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

const engagementPlaces = 6

// EngagementRate is (likes+comments+shares+saves)/views rounded to six
// places; zero views yield zero.
func EngagementRate(views, likes, comments, shares, saves int64) decimal.Decimal {
	if views <= 0 {
		return decimal.Zero
	}
	interactions := decimal.NewFromInt(likes + comments + shares + saves)
	return interactions.DivRound(decimal.NewFromInt(views), engagementPlaces)
}

func snapshotOf(post models.Post) payloads.PostMetricsSnapshot {
	return payloads.PostMetricsSnapshot{
		PostID:         post.ID,
		TiktokID:       post.TiktokID,
		ViewCount:      post.ViewCount,
		LikeCount:      post.LikeCount,
		ShareCount:     post.ShareCount,
		CommentCount:   post.CommentCount,
		SaveCount:      post.SaveCount,
		EngagementRate: EngagementRate(post.ViewCount, post.LikeCount, post.CommentCount, post.ShareCount, post.SaveCount),
	}
}

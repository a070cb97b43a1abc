package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is a remote social profile tracked by the monitor.
type Profile struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Handle            string     `gorm:"column:handle;not null;uniqueIndex:ux_profiles_handle"`
	Nickname          string     `gorm:"column:nickname;not null;default:''"`
	Bio               *string    `gorm:"column:bio"`
	AvatarURL         *string    `gorm:"column:avatar_url"`
	AvatarID          *uuid.UUID `gorm:"column:avatar_id;type:uuid"`
	Verified          bool       `gorm:"column:verified;not null;default:false"`
	FollowerCount     int64      `gorm:"column:follower_count;not null;default:0"`
	FollowingCount    int64      `gorm:"column:following_count;not null;default:0"`
	LikeCount         int64      `gorm:"column:like_count;not null;default:0"`
	VideoCount        int64      `gorm:"column:video_count;not null;default:0"`
	MonitoringEnabled bool       `gorm:"column:monitoring_enabled;not null;default:true"`
	LastMonitoringRun *time.Time `gorm:"column:last_monitoring_run"`
	NextMonitoringRun *time.Time `gorm:"column:next_monitoring_run"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Package scraper is the port to the external profile scraping service.
package scraper

import (
	"context"
	"time"
)

// ProfileData is the scraped state of a profile.
type ProfileData struct {
	Handle         string `json:"handle" validate:"required,max=128"`
	Nickname       string `json:"nickname" validate:"max=256"`
	Bio            string `json:"bio,omitempty" validate:"max=4096"`
	AvatarURL      string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	Verified       bool   `json:"verified"`
	FollowerCount  int64  `json:"followerCount" validate:"gte=0"`
	FollowingCount int64  `json:"followingCount" validate:"gte=0"`
	LikeCount      int64  `json:"likeCount" validate:"gte=0"`
	VideoCount     int64  `json:"videoCount" validate:"gte=0"`
}

// ImageData is one carousel slide.
type ImageData struct {
	URL    string `json:"url" validate:"required,url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// PostData is one scraped post with its latest metrics.
type PostData struct {
	TiktokID     string      `json:"id" validate:"required,max=64"`
	Description  string      `json:"description,omitempty"`
	PostedAt     *time.Time  `json:"postedAt,omitempty"`
	WebURL       string      `json:"webUrl,omitempty" validate:"omitempty,url"`
	Duration     int         `json:"duration,omitempty" validate:"gte=0"`
	VideoURL     string      `json:"videoUrl,omitempty" validate:"omitempty,url"`
	CoverURL     string      `json:"coverUrl,omitempty" validate:"omitempty,url"`
	MusicURL     string      `json:"musicUrl,omitempty" validate:"omitempty,url"`
	MusicTitle   string      `json:"musicTitle,omitempty"`
	Images       []ImageData `json:"images,omitempty" validate:"dive"`
	Hashtags     []string    `json:"hashtags,omitempty"`
	ViewCount    int64       `json:"viewCount" validate:"gte=0"`
	LikeCount    int64       `json:"likeCount" validate:"gte=0"`
	ShareCount   int64       `json:"shareCount" validate:"gte=0"`
	CommentCount int64       `json:"commentCount" validate:"gte=0"`
	SaveCount    int64       `json:"saveCount" validate:"gte=0"`
}

// Page is one page of a profile's post feed.
type Page struct {
	Profile    ProfileData `json:"profile"`
	Posts      []PostData  `json:"posts"`
	NextCursor string      `json:"nextCursor,omitempty"`
	HasMore    bool        `json:"hasMore"`
}

// Client fetches profile feed pages. An empty cursor requests the first page.
type Client interface {
	FetchProfilePage(ctx context.Context, handle, cursor string) (*Page, error)
}

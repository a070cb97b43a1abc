package bulkupsert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
)

var metricColumns = []string{
	"view_count", "like_count", "share_count", "comment_count", "save_count", "metrics_captured_at",
}

var mediaColumns = []string{
	"video_url", "video_id", "cover_url", "cover_id", "music_url", "music_id", "music_title", "images",
}

// Repository persists profiles and posts for the bulk upsert.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindProfileByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).Where("handle = ?", handle).Take(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreateProfile inserts profile and reports whether it did. A handle stored
// concurrently leaves the existing row alone.
func (r *Repository) CreateProfile(ctx context.Context, profile *models.Profile) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "handle"}}, DoNothing: true}).
		Create(profile)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateProfile rewrites the scraped columns of an existing profile.
func (r *Repository) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{ID: profile.ID}).
		Select("nickname", "bio", "avatar_url", "avatar_id", "verified",
			"follower_count", "following_count", "like_count", "video_count", "updated_at").
		Updates(profile).Error
}

// FindPostsByTiktokIDs returns the stored posts keyed by tiktok id.
func (r *Repository) FindPostsByTiktokIDs(ctx context.Context, ids []string) (map[string]models.Post, error) {
	out := make(map[string]models.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Post
	if err := r.db.WithContext(ctx).Where("tiktok_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TiktokID] = row
	}
	return out, nil
}

func (r *Repository) FindPostByTiktokID(ctx context.Context, tiktokID string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("tiktok_id = ?", tiktokID).Take(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePost inserts a full post and reports whether it did. A row that
// appeared concurrently under the same tiktok id is left for the caller to
// update.
func (r *Repository) CreatePost(ctx context.Context, post *models.Post) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tiktok_id"}}, DoNothing: true}).
		Create(post)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdatePostMetrics writes the counters only; media references are untouched.
func (r *Repository) UpdatePostMetrics(ctx context.Context, id uuid.UUID, post *models.Post) error {
	return r.updatePost(ctx, id, post, metricColumns)
}

// UpdatePostMetricsAndMedia also rewrites the media references.
func (r *Repository) UpdatePostMetricsAndMedia(ctx context.Context, id uuid.UUID, post *models.Post) error {
	return r.updatePost(ctx, id, post, append(append([]string{}, metricColumns...), mediaColumns...))
}

func (r *Repository) updatePost(ctx context.Context, id uuid.UUID, post *models.Post, columns []string) error {
	post.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Post{ID: id}).
		Select(append(columns, "updated_at")).
		Updates(post).Error
}

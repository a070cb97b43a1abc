package bulkupsert

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/dbtest"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
)

type queueJobs struct {
	q *queue.Queue
}

func (j queueJobs) AddJob(ctx context.Context, jobID string, job cacheasset.CacheJob, opts queue.Options) (queue.EnqueueResult, error) {
	return j.q.Enqueue(ctx, jobID, job, opts)
}

type fixture struct {
	db  *gorm.DB
	svc *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	q, err := queue.New(db, enums.QueueMediaCache, queue.DefaultPolicy())
	require.NoError(t, err)
	assets, err := cacheasset.NewService(cacheasset.ServiceParams{
		Repo:   cacheasset.NewRepository(db),
		Jobs:   queueJobs{q: q},
		Store:  storage.NewMemory(""),
		Logger: logg,
	})
	require.NoError(t, err)
	svc, err := NewService(Params{
		TxRunner:  dbpkg.Wrap(db),
		Repo:      NewRepository(db),
		Assets:    assets,
		Logger:    logg,
		BatchSize: 5,
	})
	require.NoError(t, err)
	return fixture{db: db, svc: svc}
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f fixture) post(t *testing.T, tiktokID string) models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, f.db.Where("tiktok_id = ?", tiktokID).Take(&post).Error)
	return post
}

func samplePosts(n int) []scraper.PostData {
	posts := make([]scraper.PostData, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, scraper.PostData{
			TiktokID:  fmt.Sprintf("73%04d", i),
			VideoURL:  fmt.Sprintf("https://cdn.ext.example.com/v/%d.mp4", i),
			CoverURL:  fmt.Sprintf("https://cdn.ext.example.com/c/%d.jpg", i),
			Hashtags:  []string{"#Fyp", "fyp", "carousel"},
			ViewCount: int64(100 + i),
			LikeCount: int64(10 + i),
		})
	}
	return posts
}

var sampleProfile = scraper.ProfileData{
	Handle:        "@creator",
	Nickname:      "Creator",
	AvatarURL:     "https://cdn.ext.example.com/a/creator.jpg",
	FollowerCount: 1200,
}

func TestBulkUpsertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posts := samplePosts(12)

	first, err := f.svc.BulkUpsert(ctx, sampleProfile, posts, Options{})
	require.NoError(t, err)
	assert.Equal(t, 12, first.PostsCreated)
	assert.Equal(t, 0, first.PostsUpdated)
	assert.Equal(t, 12, first.TotalPosts)

	assetsAfterFirst := f.count(t, &models.CacheAsset{})
	assert.Equal(t, int64(25), assetsAfterFirst, "video + cover per post plus the avatar")

	second, err := f.svc.BulkUpsert(ctx, sampleProfile, posts, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.PostsCreated)
	assert.Equal(t, 12, second.PostsUpdated)
	assert.Equal(t, first.ProfileID, second.ProfileID)

	assert.Equal(t, int64(12), f.count(t, &models.Post{}))
	assert.Equal(t, int64(1), f.count(t, &models.Profile{}))
	assert.Equal(t, assetsAfterFirst, f.count(t, &models.CacheAsset{}))

	var profile models.Profile
	require.NoError(t, f.db.Where("handle = ?", "creator").Take(&profile).Error)
	require.NotNil(t, profile.AvatarID)
	assert.True(t, profile.MonitoringEnabled)

	post := f.post(t, posts[0].TiktokID)
	assert.Equal(t, []string{"fyp", "carousel"}, []string(post.Hashtags))
}

func TestBulkUpsertPreservesMediaReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	posts := samplePosts(1)

	_, err := f.svc.BulkUpsert(ctx, sampleProfile, posts, Options{})
	require.NoError(t, err)
	original := f.post(t, posts[0].TiktokID)
	require.NotNil(t, original.VideoID)

	posts[0].ViewCount = 9999
	posts[0].VideoURL = "https://cdn.ext.example.com/v/rotated-signature.mp4"
	res, err := f.svc.BulkUpsert(ctx, sampleProfile, posts, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PostsUpdated)

	updated := f.post(t, posts[0].TiktokID)
	assert.Equal(t, int64(9999), updated.ViewCount)
	assert.Equal(t, *original.VideoID, *updated.VideoID)
	assert.Equal(t, *original.VideoURL, *updated.VideoURL)

	var rotated int64
	require.NoError(t, f.db.Model(&models.CacheAsset{}).Where("original_url = ?", posts[0].VideoURL).Count(&rotated).Error)
	assert.Zero(t, rotated, "routine polling must not cache media of known posts")

	_, err = f.svc.BulkUpsert(ctx, sampleProfile, posts, Options{ForceRecache: true})
	require.NoError(t, err)
	forced := f.post(t, posts[0].TiktokID)
	require.NotNil(t, forced.VideoID)
	assert.NotEqual(t, *original.VideoID, *forced.VideoID)
	assert.Equal(t, posts[0].VideoURL, *forced.VideoURL)
	assert.Equal(t, *original.CoverID, *forced.CoverID, "unchanged cover url keeps its asset")
}

func TestBulkUpsertCachesCarouselImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := scraper.PostData{
		TiktokID: "7001",
		Images: []scraper.ImageData{
			{URL: "https://cdn.ext.example.com/i/1.jpg", Width: 1080, Height: 1920},
			{URL: "https://cdn.ext.example.com/i/2.heic", Width: 1080, Height: 1920},
		},
	}

	_, err := f.svc.BulkUpsert(ctx, scraper.ProfileData{Handle: "slides"}, []scraper.PostData{post}, Options{})
	require.NoError(t, err)

	stored := f.post(t, "7001")
	require.Len(t, stored.Images, 2)
	for _, img := range stored.Images {
		require.NotNil(t, img.CacheAssetID)
	}
	assert.Nil(t, stored.VideoID)
}

func TestBulkUpsertRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BulkUpsert(ctx, scraper.ProfileData{}, nil, Options{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.BulkUpsert(ctx, sampleProfile, []scraper.PostData{{TiktokID: "1", VideoURL: "not-a-url"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, int64(0), f.count(t, &models.Post{}))
}

func TestBulkUpsertCollapsesDuplicatePosts(t *testing.T) {
	f := newFixture(t)
	posts := samplePosts(2)
	dup := posts[0]
	dup.ViewCount = 5
	posts = append(posts, dup)

	res, err := f.svc.BulkUpsert(context.Background(), sampleProfile, posts, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalPosts)
	assert.Equal(t, int64(5), f.post(t, dup.TiktokID).ViewCount)
}

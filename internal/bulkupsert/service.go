// Package bulkupsert reconciles scraped profile pages against stored rows.
package bulkupsert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const (
	defaultBatchSize = 5
	defaultFanout    = 8
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type assetService interface {
	GetOrCreateWithHints(ctx context.Context, originalURL string, hints cacheasset.Hints) (uuid.UUID, error)
	Refresh(ctx context.Context, originalURL string, hints cacheasset.Hints) (uuid.UUID, error)
}

// Options tune one bulk upsert.
type Options struct {
	// ForceRecache caches the media of existing posts again and rewrites
	// their media references.
	ForceRecache bool
}

// Result aggregates one bulk upsert.
type Result struct {
	ProfileID    uuid.UUID `json:"profileId"`
	PostsCreated int       `json:"postsCreated"`
	PostsUpdated int       `json:"postsUpdated"`
	TotalPosts   int       `json:"totalPosts"`
}

// Params wire the service.
type Params struct {
	TxRunner  txRunner
	Repo      *Repository
	Assets    assetService
	Logger    *logger.Logger
	BatchSize int
	// MediaFanout bounds concurrent cache asset lookups.
	MediaFanout int
}

type Service struct {
	tx        txRunner
	repo      *Repository
	assets    assetService
	logg      *logger.Logger
	batchSize int
	fanout    int
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(params Params) (*Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("cache asset service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	fanout := params.MediaFanout
	if fanout <= 0 {
		fanout = defaultFanout
	}
	return &Service{
		tx:        params.TxRunner,
		repo:      params.Repo,
		assets:    params.Assets,
		logg:      params.Logger,
		batchSize: batch,
		fanout:    fanout,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// BulkUpsert writes one page of scraped data. Media caching happens before
// and outside every transaction. Posts are written in batches; a failed
// batch does not roll back the others and its error is returned after all
// batches ran. Calling it twice with the same input is safe.
func (s *Service) BulkUpsert(ctx context.Context, profile scraper.ProfileData, posts []scraper.PostData, opts Options) (Result, error) {
	profile.Handle = strings.TrimPrefix(strings.TrimSpace(profile.Handle), "@")
	if err := s.validate.Struct(profile); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid profile data")
	}
	posts, err := s.validPosts(posts)
	if err != nil {
		return Result{}, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"handle":        profile.Handle,
		"posts":         len(posts),
		"force_recache": opts.ForceRecache,
	})

	var avatarID *uuid.UUID
	if profile.AvatarURL != "" {
		id, err := s.cacheOne(ctx, profile.AvatarURL, cacheasset.Hints{Folder: "avatars", Filename: profile.Handle}, opts.ForceRecache)
		if err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("avatar caching failed, keeping previous avatar: %v", err))
		} else {
			avatarID = &id
		}
	}

	tiktokIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		tiktokIDs = append(tiktokIDs, post.TiktokID)
	}
	existing, err := s.repo.FindPostsByTiktokIDs(ctx, tiktokIDs)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing posts")
	}

	var needMedia []scraper.PostData
	for _, post := range posts {
		if _, known := existing[post.TiktokID]; !known || opts.ForceRecache {
			needMedia = append(needMedia, post)
		}
	}
	mediaIDs, err := s.cacheMedia(ctx, needMedia, opts.ForceRecache)
	if err != nil {
		return Result{}, err
	}

	profileID, err := s.upsertProfile(ctx, profile, avatarID)
	if err != nil {
		return Result{}, err
	}

	result := Result{ProfileID: profileID, TotalPosts: len(posts)}
	capturedAt := s.now()
	var errs error
	for start := 0; start < len(posts); start += s.batchSize {
		end := min(start+s.batchSize, len(posts))
		created, updated, err := s.writeBatch(ctx, profileID, posts[start:end], existing, mediaIDs, capturedAt, opts)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "batch_start", start), "post batch failed", err)
			errs = multierr.Append(errs, fmt.Errorf("batch %d-%d: %w", start, end-1, err))
			continue
		}
		result.PostsCreated += created
		result.PostsUpdated += updated
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"posts_created": result.PostsCreated,
		"posts_updated": result.PostsUpdated,
	}), "bulk upsert finished")
	return result, errs
}

// validPosts drops duplicate tiktok ids (last occurrence wins) and rejects
// the page when any post is malformed.
func (s *Service) validPosts(posts []scraper.PostData) ([]scraper.PostData, error) {
	index := make(map[string]int, len(posts))
	out := make([]scraper.PostData, 0, len(posts))
	for _, post := range posts {
		post.TiktokID = strings.TrimSpace(post.TiktokID)
		if err := s.validate.Struct(post); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid post data").
				WithDetails(map[string]any{"tiktokId": post.TiktokID})
		}
		if i, ok := index[post.TiktokID]; ok {
			out[i] = post
			continue
		}
		index[post.TiktokID] = len(out)
		out = append(out, post)
	}
	return out, nil
}

type mediaRef struct {
	url   string
	hints cacheasset.Hints
}

func mediaRefs(post scraper.PostData) []mediaRef {
	var refs []mediaRef
	add := func(url, folder string) {
		if url != "" {
			refs = append(refs, mediaRef{url: url, hints: cacheasset.Hints{Folder: folder, Filename: post.TiktokID}})
		}
	}
	add(post.VideoURL, "videos")
	add(post.CoverURL, "covers")
	add(post.MusicURL, "music")
	for _, img := range post.Images {
		add(img.URL, "images")
	}
	return refs
}

// cacheMedia resolves a cache asset id for every distinct media URL.
func (s *Service) cacheMedia(ctx context.Context, posts []scraper.PostData, force bool) (map[string]uuid.UUID, error) {
	unique := map[string]cacheasset.Hints{}
	for _, post := range posts {
		for _, ref := range mediaRefs(post) {
			if _, ok := unique[ref.url]; !ok {
				unique[ref.url] = ref.hints
			}
		}
	}

	var mu sync.Mutex
	ids := make(map[string]uuid.UUID, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for url, hints := range unique {
		g.Go(func() error {
			id, err := s.cacheOne(gctx, url, hints, force)
			if err != nil {
				return fmt.Errorf("cache %s: %w", url, err)
			}
			mu.Lock()
			ids[url] = id
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) cacheOne(ctx context.Context, url string, hints cacheasset.Hints, force bool) (uuid.UUID, error) {
	if force {
		return s.assets.Refresh(ctx, url, hints)
	}
	return s.assets.GetOrCreateWithHints(ctx, url, hints)
}

func (s *Service) upsertProfile(ctx context.Context, data scraper.ProfileData, avatarID *uuid.UUID) (uuid.UUID, error) {
	var profileID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		current, err := repo.FindProfileByHandle(ctx, data.Handle)
		if err != nil && !dbpkg.IsNotFound(err) {
			return err
		}
		if current == nil {
			row := &models.Profile{
				ID:                uuid.New(),
				Handle:            data.Handle,
				MonitoringEnabled: true,
				CreatedAt:         now,
			}
			applyProfile(row, data, avatarID, now)
			inserted, err := repo.CreateProfile(ctx, row)
			if err != nil {
				return err
			}
			if inserted {
				profileID = row.ID
				return nil
			}
			// another writer stored the handle first
			if current, err = repo.FindProfileByHandle(ctx, data.Handle); err != nil {
				return err
			}
		}
		applyProfile(current, data, avatarID, now)
		profileID = current.ID
		return repo.UpdateProfile(ctx, current)
	})
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert profile")
	}
	return profileID, nil
}

func applyProfile(row *models.Profile, data scraper.ProfileData, avatarID *uuid.UUID, now time.Time) {
	row.Nickname = data.Nickname
	row.Bio = optional(data.Bio)
	row.Verified = data.Verified
	row.FollowerCount = data.FollowerCount
	row.FollowingCount = data.FollowingCount
	row.LikeCount = data.LikeCount
	row.VideoCount = data.VideoCount
	if data.AvatarURL != "" {
		row.AvatarURL = &data.AvatarURL
	}
	if avatarID != nil {
		row.AvatarID = avatarID
	}
	row.UpdatedAt = now
}

func (s *Service) writeBatch(ctx context.Context, profileID uuid.UUID, batch []scraper.PostData, existing map[string]models.Post, mediaIDs map[string]uuid.UUID, capturedAt time.Time, opts Options) (int, int, error) {
	var created, updated int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, updated = 0, 0
		for _, data := range batch {
			row := buildPost(profileID, data, mediaIDs, capturedAt)
			current, known := existing[data.TiktokID]
			if !known {
				row.ID = uuid.New()
				row.CreatedAt = capturedAt
				row.UpdatedAt = capturedAt
				inserted, err := repo.CreatePost(ctx, row)
				if err != nil {
					return fmt.Errorf("create post %s: %w", data.TiktokID, err)
				}
				if inserted {
					created++
					continue
				}
				// stored concurrently since the snapshot; update it instead
				winner, err := repo.FindPostByTiktokID(ctx, data.TiktokID)
				if err != nil {
					return fmt.Errorf("reload post %s: %w", data.TiktokID, err)
				}
				current = *winner
				row.ID = winner.ID
			}
			update := repo.UpdatePostMetrics
			if opts.ForceRecache {
				update = repo.UpdatePostMetricsAndMedia
			}
			if err := update(ctx, current.ID, row); err != nil {
				return fmt.Errorf("update post %s: %w", data.TiktokID, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func buildPost(profileID uuid.UUID, data scraper.PostData, mediaIDs map[string]uuid.UUID, capturedAt time.Time) *models.Post {
	post := &models.Post{
		TiktokID:          data.TiktokID,
		ProfileID:         profileID,
		Description:       optional(data.Description),
		PostedAt:          data.PostedAt,
		WebURL:            optional(data.WebURL),
		VideoURL:          optional(data.VideoURL),
		VideoID:           lookup(mediaIDs, data.VideoURL),
		CoverURL:          optional(data.CoverURL),
		CoverID:           lookup(mediaIDs, data.CoverURL),
		MusicURL:          optional(data.MusicURL),
		MusicID:           lookup(mediaIDs, data.MusicURL),
		MusicTitle:        optional(data.MusicTitle),
		Hashtags:          pq.StringArray(normalizeHashtags(data.Hashtags)),
		ViewCount:         data.ViewCount,
		LikeCount:         data.LikeCount,
		ShareCount:        data.ShareCount,
		CommentCount:      data.CommentCount,
		SaveCount:         data.SaveCount,
		MetricsCapturedAt: &capturedAt,
	}
	if data.Duration > 0 {
		duration := data.Duration
		post.Duration = &duration
	}
	for _, img := range data.Images {
		post.Images = append(post.Images, models.PostImage{
			URL:          img.URL,
			Width:        img.Width,
			Height:       img.Height,
			CacheAssetID: lookup(mediaIDs, img.URL),
		})
	}
	return post
}

func normalizeHashtags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func lookup(ids map[string]uuid.UUID, url string) *uuid.UUID {
	if url == "" {
		return nil
	}
	id, ok := ids[url]
	if !ok {
		return nil
	}
	return &id
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

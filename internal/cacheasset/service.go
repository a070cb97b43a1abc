package cacheasset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/internal/queue"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
)

const originalURLConstraint = "ux_cache_assets_original_url"

type assetRepository interface {
	Create(ctx context.Context, originalURL string) (*models.CacheAsset, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error)
	FindByURL(ctx context.Context, originalURL string) (*models.CacheAsset, error)
	ResetForRecache(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error)
}

// JobQueue submits cache jobs. Implemented by mediacache.Queue.
type JobQueue interface {
	AddJob(ctx context.Context, jobID string, job CacheJob, opts queue.Options) (queue.EnqueueResult, error)
}

// URLCache memoizes resolved object URLs. Implemented by the redis client.
type URLCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ResolvedURLKey(assetID string) string
}

// Hints shape the stored object's key.
type Hints struct {
	Folder   string
	Filename string
}

// Service exposes the dedup index and the asset state machine to callers.
type Service interface {
	GetOrCreate(ctx context.Context, originalURL string) (uuid.UUID, error)
	GetOrCreateWithHints(ctx context.Context, originalURL string, hints Hints) (uuid.UUID, error)
	ResolveURL(ctx context.Context, id uuid.UUID, fallbackURL string) (string, error)
	ForceRecache(ctx context.Context, id uuid.UUID) error
	Refresh(ctx context.Context, originalURL string, hints Hints) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error)
}

// ServiceParams wires the service dependencies. URLCache is optional.
type ServiceParams struct {
	Repo     assetRepository
	Jobs     JobQueue
	Store    storage.Store
	URLCache URLCache
	// URLCacheTTL bounds how long a resolved URL is reused. It should be
	// shorter than the presigned URL expiry. Zero disables caching.
	URLCacheTTL time.Duration
	Logger      *logger.Logger
}

type service struct {
	repo     assetRepository
	jobs     JobQueue
	store    storage.Store
	urls     URLCache
	urlTTL   time.Duration
	logg     *logger.Logger
	validate *validator.Validate
}

// NewService constructs the cache asset service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cache asset repository required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("cache job queue required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		jobs:     params.Jobs,
		store:    params.Store,
		urls:     params.URLCache,
		urlTTL:   params.URLCacheTTL,
		logg:     params.Logger,
		validate: validator.New(),
	}, nil
}

func (s *service) GetOrCreate(ctx context.Context, originalURL string) (uuid.UUID, error) {
	return s.GetOrCreateWithHints(ctx, originalURL, Hints{})
}

// GetOrCreateWithHints returns the existing asset id for originalURL, or
// creates a PENDING asset and queues its download. It never waits for the
// download itself.
func (s *service) GetOrCreateWithHints(ctx context.Context, originalURL string, hints Hints) (uuid.UUID, error) {
	originalURL = strings.TrimSpace(originalURL)
	if err := s.validate.Var(originalURL, "required,url,max=4096"); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid original url").
			WithDetails(map[string]any{"originalUrl": originalURL})
	}

	existing, err := s.repo.FindByURL(ctx, originalURL)
	switch {
	case err == nil:
		if existing.Status == enums.CacheAssetStatusPending {
			// heals an asset whose first enqueue failed; a live job makes this a no-op
			if err := s.enqueue(ctx, existing, hints); err != nil {
				return uuid.Nil, err
			}
		}
		return existing.ID, nil
	case !dbpkg.IsNotFound(err):
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup cache asset")
	}

	created, err := s.repo.Create(ctx, originalURL)
	if err != nil {
		if dbpkg.IsUniqueViolation(err, originalURLConstraint) {
			winner, findErr := s.repo.FindByURL(ctx, originalURL)
			if findErr != nil {
				return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload cache asset")
			}
			return winner.ID, nil
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cache asset")
	}

	if err := s.enqueue(ctx, created, hints); err != nil {
		return uuid.Nil, err
	}
	return created.ID, nil
}

// ResolveURL never fails the read path: anything short of a CACHED asset with
// a resolvable object yields fallbackURL.
func (s *service) ResolveURL(ctx context.Context, id uuid.UUID, fallbackURL string) (string, error) {
	if id == uuid.Nil {
		return fallbackURL, nil
	}
	ctx = s.logg.WithField(ctx, "cache_asset_id", id.String())

	asset, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if !dbpkg.IsNotFound(err) {
			s.logg.Warn(ctx, fmt.Sprintf("resolve cache asset failed, using fallback: %v", err))
		}
		return fallbackURL, nil
	}
	if asset.Status != enums.CacheAssetStatusCached || asset.CacheKey == nil || *asset.CacheKey == "" {
		return fallbackURL, nil
	}

	cacheKey := ""
	if s.urls != nil && s.urlTTL > 0 {
		cacheKey = s.urls.ResolvedURLKey(id.String())
		if cached, err := s.urls.Get(ctx, cacheKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	resolved, err := s.store.URL(ctx, *asset.CacheKey)
	if err != nil || resolved == "" {
		s.logg.Warn(ctx, fmt.Sprintf("object url unavailable, using fallback: %v", err))
		return fallbackURL, nil
	}
	if cacheKey != "" {
		if err := s.urls.Set(ctx, cacheKey, resolved, s.urlTTL); err != nil {
			s.logg.Warn(ctx, "resolved url cache write failed")
		}
	}
	return resolved, nil
}

// ForceRecache resets the asset to PENDING and queues its download. All jobs
// for an asset share one id: a finished job is revived, a waiting one picks
// up the reset row, and a leased one finds its result stale and retries.
func (s *service) ForceRecache(ctx context.Context, id uuid.UUID) error {
	asset, err := s.repo.ResetForRecache(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cache asset not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset cache asset")
	}
	if s.urls != nil {
		if err := s.urls.Del(ctx, s.urls.ResolvedURLKey(id.String())); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "cache_asset_id", id.String()), "resolved url cache evict failed")
		}
	}
	return s.enqueue(ctx, asset, Hints{})
}

// Refresh is GetOrCreate for callers that want existing media downloaded
// again: a settled (CACHED or FAILED) asset is force recached, an in-flight
// one is left alone.
func (s *service) Refresh(ctx context.Context, originalURL string, hints Hints) (uuid.UUID, error) {
	existing, err := s.repo.FindByURL(ctx, strings.TrimSpace(originalURL))
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return s.GetOrCreateWithHints(ctx, originalURL, hints)
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup cache asset")
	}
	if existing.Status.IsTerminal() {
		if err := s.ForceRecache(ctx, existing.ID); err != nil {
			return uuid.Nil, err
		}
	}
	return existing.ID, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error) {
	asset, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cache asset not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cache asset")
	}
	return asset, nil
}

func (s *service) enqueue(ctx context.Context, asset *models.CacheAsset, hints Hints) error {
	job := CacheJob{
		OriginalURL:  asset.OriginalURL,
		CacheAssetID: asset.ID,
		Folder:       hints.Folder,
		Filename:     hints.Filename,
	}
	if _, err := s.jobs.AddJob(ctx, job.JobID(), job, queue.Options{}); err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue cache job")
	}
	return nil
}

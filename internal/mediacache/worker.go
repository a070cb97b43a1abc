package mediacache

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/storage"
)

const defaultJPEGQuality = 92

type assetRepository interface {
	MarkDownloading(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error)
	MarkCached(ctx context.Context, id uuid.UUID, obj cacheasset.CachedObject) error
	RecordAttemptError(ctx context.Context, id uuid.UUID, reason string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Download, error)
}

// WorkerParams wire the media cache worker. Converter may be nil, in which
// case HEIF bytes are stored as-is.
type WorkerParams struct {
	Assets        assetRepository
	Store         storage.Store
	Fetcher       fetcher
	Converter     Converter
	Logger        *logger.Logger
	JPEGQuality   int
	DefaultFolder string
	// InternalPrefixes are extra base URLs (CDN fronts) that already serve
	// objects from the store.
	InternalPrefixes []string
}

// Worker processes media-cache jobs. It only ever touches the job's
// CacheAsset row.
type Worker struct {
	assets           assetRepository
	store            storage.Store
	fetcher          fetcher
	converter        Converter
	logg             *logger.Logger
	quality          int
	defaultFolder    string
	internalPrefixes []string
	now              func() time.Time
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Assets == nil {
		return nil, fmt.Errorf("cache asset repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("fetcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	quality := params.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQuality
	}
	folder := strings.TrimSpace(params.DefaultFolder)
	if folder == "" {
		folder = "media"
	}
	var prefixes []string
	for _, prefix := range params.InternalPrefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	return &Worker{
		assets:           params.Assets,
		store:            params.Store,
		fetcher:          params.Fetcher,
		converter:        params.Converter,
		logg:             params.Logger,
		quality:          quality,
		defaultFolder:    folder,
		internalPrefixes: prefixes,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle is the queue.Handler for the media-cache queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var payload cacheasset.CacheJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	ctx = w.logg.WithFields(ctx, map[string]any{
		"cache_asset_id": payload.CacheAssetID.String(),
		"original_url":   payload.OriginalURL,
	})

	asset, err := w.assets.MarkDownloading(ctx, payload.CacheAssetID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cache asset no longer exists")
		}
		return fmt.Errorf("mark downloading: %w", err)
	}
	if asset.Status != enums.CacheAssetStatusDownloading {
		w.logg.Info(w.logg.WithField(ctx, "status", string(asset.Status)), "cache asset already settled, skipping")
		return nil
	}

	obj, err := w.cache(ctx, payload)
	if err != nil {
		w.settleFailure(ctx, job, payload.CacheAssetID, err)
		return err
	}

	if err := w.assets.MarkCached(ctx, payload.CacheAssetID, obj); err != nil {
		if errors.Is(err, cacheasset.ErrStaleTransition) {
			// a recache reset the row mid-download; the retry downloads again
			w.logg.Warn(ctx, "cache asset was reset while downloading, result discarded")
			return errors.New("cache asset reset while downloading")
		}
		return fmt.Errorf("mark cached: %w", err)
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"cache_key":    obj.Key,
		"file_size":    obj.Size,
		"content_type": obj.ContentType,
	}), "media cached")
	return nil
}

// settleFailure only moves the asset to FAILED once the queue gives up on
// the job. Earlier attempts leave it DOWNLOADING with the error noted.
func (w *Worker) settleFailure(ctx context.Context, job *queue.Job, id uuid.UUID, cause error) {
	var err error
	if job.LastAttempt() || !pkgerrors.IsRetryable(cause) {
		err = w.assets.MarkFailed(ctx, id, cause.Error())
	} else {
		err = w.assets.RecordAttemptError(ctx, id, cause.Error())
	}
	if err != nil && !errors.Is(err, cacheasset.ErrStaleTransition) {
		w.logg.Error(ctx, "record cache asset failure", err)
	}
}

func (w *Worker) cache(ctx context.Context, payload cacheasset.CacheJob) (cacheasset.CachedObject, error) {
	if key, ok := w.internalKey(payload.OriginalURL); ok {
		return w.adoptInternal(ctx, key)
	}

	dl, err := w.fetcher.Fetch(ctx, payload.OriginalURL)
	if err != nil {
		return cacheasset.CachedObject{}, err
	}

	body, format, err := w.normalize(ctx, payload.OriginalURL, dl)
	if err != nil {
		return cacheasset.CachedObject{}, err
	}

	key := storage.BuildKey(w.folder(payload.Folder), payload.CacheAssetID.String(), payload.Filename, format.Ext, w.now())
	stored, err := w.store.Put(ctx, key, body, format.MIME)
	if err != nil {
		return cacheasset.CachedObject{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload cached media")
	}
	return cacheasset.CachedObject{
		Key:         stored.Key,
		Size:        int64(len(body)),
		ContentType: format.MIME,
		CachedAt:    w.now(),
	}, nil
}

// normalize returns the bytes to store and their format. Genuine HEIF is
// converted to JPEG; a URL or header that claims HEIF over non-HEIF bytes is
// a mismatch and the original bytes are kept.
func (w *Worker) normalize(ctx context.Context, sourceURL string, dl *Download) ([]byte, Format, error) {
	format := DetectFormat(dl.Body)
	claimsHEIF := ImpliesHEIF(sourceURL, dl.ContentType)

	if claimsHEIF && !format.HEIF {
		analysis := analyze(dl.Body, format, sourceURL, dl.ContentType)
		w.logg.Warn(w.logg.WithFields(ctx, analysis.fields()), "format mismatch: expected heif, storing original bytes")
		return dl.Body, w.storedFormat(format, sourceURL, dl.ContentType), nil
	}
	if !format.HEIF {
		return dl.Body, w.storedFormat(format, sourceURL, dl.ContentType), nil
	}
	if w.converter == nil {
		w.logg.Warn(ctx, "heif converter not configured, storing original bytes")
		return dl.Body, format, nil
	}

	converted, err := w.converter.ToJPEG(ctx, dl.Body, w.quality)
	if err != nil {
		return nil, Format{}, fmt.Errorf("convert heif to jpeg: %w", err)
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"original_size":  len(dl.Body),
		"converted_size": len(converted),
	}), "heif converted to jpeg")
	return converted, Format{MIME: "image/jpeg", Ext: ".jpg"}, nil
}

// storedFormat falls back to the declared type and URL extension when the
// signature is unknown.
func (w *Worker) storedFormat(format Format, sourceURL, declaredType string) Format {
	if format.MIME != "" && format.MIME != "application/octet-stream" {
		return format
	}
	out := Format{MIME: "application/octet-stream", Ext: urlExt(sourceURL)}
	if declared, _, err := mime.ParseMediaType(declaredType); err == nil && declared != "" {
		out.MIME = declared
		if out.Ext == "" {
			if exts, _ := mime.ExtensionsByType(declared); len(exts) > 0 {
				out.Ext = exts[0]
			}
		}
	}
	return out
}

func (w *Worker) internalKey(rawURL string) (string, bool) {
	if key, ok := w.store.KeyFromURL(rawURL); ok {
		return key, true
	}
	return storage.KeyFromURL(rawURL, w.internalPrefixes...)
}

func (w *Worker) adoptInternal(ctx context.Context, key string) (cacheasset.CachedObject, error) {
	obj, err := w.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return cacheasset.CachedObject{}, pkgerrors.New(pkgerrors.CodeNotFound, "internal object missing").
				WithDetails(map[string]any{"key": key})
		}
		return cacheasset.CachedObject{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat internal object")
	}
	w.logg.Info(w.logg.WithField(ctx, "cache_key", key), "url already in object store, skipping download")
	return cacheasset.CachedObject{
		Key:         key,
		Size:        obj.Size,
		ContentType: obj.ContentType,
		CachedAt:    w.now(),
	}, nil
}

func (w *Worker) folder(hint string) string {
	if trimmed := strings.TrimSpace(hint); trimmed != "" {
		return trimmed
	}
	return w.defaultFolder
}

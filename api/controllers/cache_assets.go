package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/api/responses"
	"github.com/angelmondragon/carousel-backend/api/validators"
	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

type cacheAssetCreateRequest struct {
	OriginalURL string `json:"originalUrl" validate:"required,url,max=4096"`
	Folder      string `json:"folder" validate:"max=128"`
	Filename    string `json:"filename" validate:"max=128"`
	// Refresh downloads an already settled asset again.
	Refresh bool `json:"refresh"`
}

type cacheAssetResponse struct {
	ID          uuid.UUID  `json:"id"`
	OriginalURL string     `json:"originalUrl"`
	Status      string     `json:"status"`
	CacheKey    *string    `json:"cacheKey,omitempty"`
	FileSize    *int64     `json:"fileSize,omitempty"`
	ContentType *string    `json:"contentType,omitempty"`
	CachedAt    *time.Time `json:"cachedAt,omitempty"`
	LastError   *string    `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toCacheAssetResponse(asset *models.CacheAsset) cacheAssetResponse {
	return cacheAssetResponse{
		ID:          asset.ID,
		OriginalURL: asset.OriginalURL,
		Status:      string(asset.Status),
		CacheKey:    asset.CacheKey,
		FileSize:    asset.FileSize,
		ContentType: asset.ContentType,
		CachedAt:    asset.CachedAt,
		LastError:   asset.LastError,
		CreatedAt:   asset.CreatedAt,
		UpdatedAt:   asset.UpdatedAt,
	}
}

// CacheAssetCreate returns the asset id for a remote URL, queueing the download
// when the URL is new. It never waits for the download.
func CacheAssetCreate(svc cacheasset.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cache asset service unavailable"))
			return
		}

		var req cacheAssetCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hints := cacheasset.Hints{
			Folder:   validators.Clean(req.Folder, 128),
			Filename: validators.Clean(req.Filename, 128),
		}
		url := strings.TrimSpace(req.OriginalURL)

		var (
			id  uuid.UUID
			err error
		)
		if req.Refresh {
			id, err = svc.Refresh(r.Context(), url, hints)
		} else {
			id, err = svc.GetOrCreateWithHints(r.Context(), url, hints)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"cacheAssetId": id.String()})
	}
}

func CacheAssetGet(svc cacheasset.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		asset, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toCacheAssetResponse(asset))
	}
}

// CacheAssetURL resolves the stored object URL, answering with the fallback
// query parameter for anything not yet cached.
func CacheAssetURL(svc cacheasset.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fallback := strings.TrimSpace(r.URL.Query().Get("fallback"))
		resolved, err := svc.ResolveURL(r.Context(), id, fallback)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"url":      resolved,
			"fallback": resolved == fallback,
		})
	}
}

func CacheAssetRecache(svc cacheasset.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "assetId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ForceRecache(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"cacheAssetId": id.String(), "status": "PENDING"})
	}
}

package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/carousel-backend/api/responses"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/carousel-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

// IdempotencyPolicy configures replay for one route.
type IdempotencyPolicy struct {
	// TTL bounds how long a stored response is replayed.
	TTL time.Duration
	// Optional lets requests without a key through untouched.
	Optional bool
}

var (
	// StrictIdempotency guards mutations that must not run twice.
	StrictIdempotency = IdempotencyPolicy{TTL: 24 * time.Hour}
	// TriggerIdempotency is for monitor triggers, which the dedup window
	// already protects.
	TriggerIdempotency = IdempotencyPolicy{TTL: time.Hour, Optional: true}
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first non-5xx response recorded for an
// Idempotency-Key. Keys are scoped to caller, method and path; reusing a key
// with a different body is a conflict.
func Idempotency(store pkgredis.IdempotencyStore, policy IdempotencyPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				if policy.Optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			requestHash := hex.EncodeToString(sum[:])
			scope := strings.Join([]string{SubjectFromContext(ctx), r.Method, r.URL.Path}, "|")
			key := store.IdempotencyKey(scope, clientKey)

			raw, err := store.Get(ctx, key)
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			case raw != "":
				var prior storedResponse
				if err := json.Unmarshal([]byte(raw), &prior); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
					return
				}
				if prior.RequestHash != requestHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDuplicate, "idempotency key reused with different request body"))
					return
				}
				replay(w, prior)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
				RequestHash: requestHash,
			})
			if err == nil {
				_, err = store.SetNX(ctx, key, string(payload), policy.TTL)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, prior storedResponse) {
	if prior.ContentType != "" {
		w.Header().Set("Content-Type", prior.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(prior.Status)
	_, _ = w.Write(prior.Body)
}

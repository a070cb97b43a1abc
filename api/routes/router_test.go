package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/api/controllers"
	"github.com/angelmondragon/carousel-backend/internal/bulkupsert"
	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	pkgAuth "github.com/angelmondragon/carousel-backend/pkg/auth"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubRedis struct {
	data map[string]string
}

func newStubRedis() *stubRedis { return &stubRedis{data: map[string]string{}} }

func (s *stubRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (s *stubRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *stubRedis) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (s *stubRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *stubRedis) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	return true, 1, nil
}

type stubAssets struct {
	id       uuid.UUID
	recached []uuid.UUID
}

func (s *stubAssets) GetOrCreate(ctx context.Context, url string) (uuid.UUID, error) {
	return s.GetOrCreateWithHints(ctx, url, cacheasset.Hints{})
}

func (s *stubAssets) GetOrCreateWithHints(context.Context, string, cacheasset.Hints) (uuid.UUID, error) {
	return s.id, nil
}

func (s *stubAssets) ResolveURL(_ context.Context, id uuid.UUID, fallback string) (string, error) {
	if id == s.id {
		return "https://cdn.example.com/media/a.jpg", nil
	}
	return fallback, nil
}

func (s *stubAssets) ForceRecache(_ context.Context, id uuid.UUID) error {
	if id != s.id {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cache asset not found")
	}
	s.recached = append(s.recached, id)
	return nil
}

func (s *stubAssets) Refresh(context.Context, string, cacheasset.Hints) (uuid.UUID, error) {
	return s.id, nil
}

func (s *stubAssets) Get(_ context.Context, id uuid.UUID) (*models.CacheAsset, error) {
	if id != s.id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cache asset not found")
	}
	return &models.CacheAsset{ID: id, OriginalURL: "https://origin.example.com/a.jpg", Status: enums.CacheAssetStatusPending}, nil
}

type stubProfiles struct{ known uuid.UUID }

func (s stubProfiles) FindProfile(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	if id != s.known {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Profile{ID: id}, nil
}

type stubMonitor struct {
	seen map[uuid.UUID]bool
}

func (s *stubMonitor) AddJob(_ context.Context, job profilemonitor.MonitorJob, _ queue.Options) (queue.EnqueueResult, error) {
	if s.seen == nil {
		s.seen = map[uuid.UUID]bool{}
	}
	created := !s.seen[job.ProfileID]
	s.seen[job.ProfileID] = true
	return queue.EnqueueResult{JobID: job.ProfileID.String(), Created: created}, nil
}

func (s *stubMonitor) AddBulkJobs(ctx context.Context, jobs []profilemonitor.MonitorJob, opts queue.Options) ([]queue.EnqueueResult, error) {
	out := make([]queue.EnqueueResult, 0, len(jobs))
	for _, job := range jobs {
		res, _ := s.AddJob(ctx, job, opts)
		out = append(out, res)
	}
	return out, nil
}

type stubQueue struct {
	stats   queue.Stats
	cleared int
}

func (s *stubQueue) GetStats(context.Context) (queue.Stats, error) { return s.stats, nil }

func (s *stubQueue) Clear(context.Context) (int64, error) {
	s.cleared++
	return 3, nil
}

type stubSyncer struct{ calls int }

func (s *stubSyncer) BulkUpsert(_ context.Context, profile scraper.ProfileData, posts []scraper.PostData, _ bulkupsert.Options) (bulkupsert.Result, error) {
	s.calls++
	return bulkupsert.Result{ProfileID: uuid.New(), PostsCreated: len(posts), TotalPosts: len(posts)}, nil
}

type stubLogs struct{}

func (stubLogs) ListByProfile(_ context.Context, profileID uuid.UUID, params pagination.Params) ([]models.ProfileMonitoringLog, string, error) {
	if params.Cursor == "bad" {
		return nil, "", monitoring.ErrInvalidCursor
	}
	row := models.ProfileMonitoringLog{
		ID:        uuid.New(),
		ProfileID: profileID,
		Status:    enums.MonitoringStatusCompleted,
		StartedAt: time.Now().UTC(),
	}
	return []models.ProfileMonitoringLog{row}, "next-page", nil
}

type stubDeadLetters struct {
	known uuid.UUID
}

func (s stubDeadLetters) List(_ context.Context, params pagination.Params) ([]models.OutboxDLQ, string, error) {
	if params.Cursor == "bad" {
		return nil, "", outbox.ErrInvalidCursor
	}
	return []models.OutboxDLQ{s.row()}, "", nil
}

func (s stubDeadLetters) FindByEventID(_ context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	if eventID != s.known {
		return nil, gorm.ErrRecordNotFound
	}
	row := s.row()
	return &row, nil
}

func (s stubDeadLetters) row() models.OutboxDLQ {
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       s.known,
		EventType:     enums.EventProfileMonitorFailed,
		AggregateType: enums.AggregateProfile,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"reason":"timeout"}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		AttemptCount:  10,
		FailedAt:      time.Now().UTC(),
	}
}

type fixture struct {
	cfg      *config.Config
	router   http.Handler
	assets   *stubAssets
	profile  uuid.UUID
	media    *stubQueue
	syncer   *stubSyncer
	dead     uuid.UUID
	registry *prometheus.Registry
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "carousel-test", ExpirationMinutes: 10},
		API: config.APIConfig{
			AllowedOrigins:  []string{"http://localhost:3000"},
			RateLimit:       100,
			RateLimitWindow: time.Minute,
			SyncTimeout:     time.Minute,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:      testConfig(),
		assets:   &stubAssets{id: uuid.New()},
		profile:  uuid.New(),
		media:    &stubQueue{stats: queue.Stats{Waiting: 4, Active: 1}},
		syncer:   &stubSyncer{},
		dead:     uuid.New(),
		registry: prometheus.NewRegistry(),
	}
	f.registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "carousel_test_total", Help: "test"}))
	rds := newStubRedis()
	f.router = NewRouter(f.cfg, nil, Dependencies{
		DB:          stubPinger{},
		Redis:       rds,
		RedisPinger: stubPinger{},
		Store:       stubPinger{},
		Assets:      f.assets,
		Queues: map[enums.QueueName]controllers.QueueAdmin{
			enums.QueueMediaCache: f.media,
		},
		Profiles:    stubProfiles{known: f.profile},
		Monitor:     &stubMonitor{},
		MonitorLogs: stubLogs{},
		Syncer:      f.syncer,
		DeadLetters: stubDeadLetters{known: f.dead},
		Metrics:     promhttp.HandlerFor(f.registry, promhttp.HandlerOpts{}),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, role enums.OperatorRole, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+buildToken(t, f.cfg, role))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func buildToken(t *testing.T, cfg *config.Config, role enums.OperatorRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{Subject: "crud-app", Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
	return envelope.Data
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/health/live", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/health/ready", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected ready 200 got %d", resp.Code)
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(cfg, nil, Dependencies{DB: stubPinger{err: fmt.Errorf("db down")}})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code == http.StatusOK {
		t.Fatalf("expected readiness failure")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/metrics", "", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "carousel_test_total") {
		t.Fatalf("expected registry contents, got %s", resp.Body.String())
	}
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/whoami", "", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestWhoAmI(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/whoami", "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	data := decodeData(t, resp)
	if data["subject"] != "crud-app" || data["role"] != "operator" {
		t.Fatalf("unexpected identity %v", data)
	}
}

func TestCacheAssetCreate(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/cache-assets", `{"originalUrl":"https://origin.example.com/a.jpg","folder":"avatars"}`, enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	if got := decodeData(t, resp)["cacheAssetId"]; got != f.assets.id.String() {
		t.Fatalf("expected asset id %s got %v", f.assets.id, got)
	}
}

func TestCacheAssetCreateRejectsInvalidURL(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/v1/cache-assets", `{"originalUrl":"not a url"}`, enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCacheAssetLookupAndResolve(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/cache-assets/"+f.assets.id.String(), "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if status := decodeData(t, resp)["status"]; status != string(enums.CacheAssetStatusPending) {
		t.Fatalf("unexpected status %v", status)
	}

	missing := uuid.New().String()
	if resp := f.do(t, http.MethodGet, "/api/v1/cache-assets/"+missing, "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/cache-assets/"+missing+"/url?fallback=https://origin.example.com/x.jpg", "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	data := decodeData(t, resp)
	if data["url"] != "https://origin.example.com/x.jpg" || data["fallback"] != true {
		t.Fatalf("expected fallback url, got %v", data)
	}

	if resp := f.do(t, http.MethodGet, "/api/v1/cache-assets/not-a-uuid", "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id got %d", resp.Code)
	}
}

func TestCacheAssetRecacheRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/cache-assets/" + f.assets.id.String() + "/recache"

	if resp := f.do(t, http.MethodPost, path, "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key got %d", resp.Code)
	}

	headers := map[string]string{"Idempotency-Key": "recache-1"}
	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodPost, path, "", enums.OperatorRoleOperator, headers)
		if resp.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: expected 202 got %d", i, resp.Code)
		}
	}
	if len(f.assets.recached) != 1 {
		t.Fatalf("expected replayed request to skip the handler, recached %d times", len(f.assets.recached))
	}
}

func TestProfileMonitorTrigger(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/profiles/" + f.profile.String() + "/monitor"

	resp := f.do(t, http.MethodPost, path, `{"forceRecache":true}`, enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = f.do(t, http.MethodPost, path, "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected deduplicated 200 got %d", resp.Code)
	}
	if created := decodeData(t, resp)["created"]; created != false {
		t.Fatalf("expected created=false got %v", created)
	}

	unknown := "/api/v1/profiles/" + uuid.New().String() + "/monitor"
	if resp := f.do(t, http.MethodPost, unknown, "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown profile got %d", resp.Code)
	}
}

func TestProfileMonitorBulk(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	body := fmt.Sprintf(`{"profileIds":["%s","%s","%s"]}`, a, b, a)

	resp := f.do(t, http.MethodPost, "/api/v1/profiles/monitor/bulk", body, enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", resp.Code, resp.Body.String())
	}
	if created := decodeData(t, resp)["created"]; created != float64(2) {
		t.Fatalf("expected 2 created got %v", created)
	}

	bad := f.do(t, http.MethodPost, "/api/v1/profiles/monitor/bulk", `{"profileIds":["nope"]}`, enums.OperatorRoleOperator, nil)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", bad.Code)
	}
}

func TestProfileSync(t *testing.T) {
	f := newFixture(t)
	body := `{"profile":{"handle":"creator","nickname":"Creator","followerCount":10,"followingCount":1,"likeCount":3,"videoCount":1},"posts":[{"id":"7301","viewCount":5,"likeCount":1,"shareCount":0,"commentCount":0,"saveCount":0}]}`

	if resp := f.do(t, http.MethodPost, "/api/v1/profiles/sync", body, enums.OperatorRoleOperator, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", resp.Code)
	}

	resp := f.do(t, http.MethodPost, "/api/v1/profiles/sync", body, enums.OperatorRoleOperator, map[string]string{"Idempotency-Key": "sync-1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if total := decodeData(t, resp)["totalPosts"]; total != float64(1) {
		t.Fatalf("expected 1 post got %v", total)
	}
	if f.syncer.calls != 1 {
		t.Fatalf("expected one upsert, got %d", f.syncer.calls)
	}
}

func TestQueueStatsAndClear(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/queues/media-cache/stats", "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	stats, _ := decodeData(t, resp)["stats"].(map[string]any)
	if stats["waiting"] != float64(4) {
		t.Fatalf("unexpected stats %v", stats)
	}

	if resp := f.do(t, http.MethodGet, "/api/v1/queues/unknown/stats", "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown queue got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/api/v1/queues/profile-monitor/stats", "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unserved queue got %d", resp.Code)
	}

	if resp := f.do(t, http.MethodDelete, "/api/v1/queues/media-cache", "", enums.OperatorRoleOperator, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator got %d", resp.Code)
	}
	resp = f.do(t, http.MethodDelete, "/api/v1/queues/media-cache", "", enums.OperatorRoleAdmin, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d", resp.Code)
	}
	if f.media.cleared != 1 {
		t.Fatalf("expected queue cleared once, got %d", f.media.cleared)
	}
}

func TestProfileMonitorLogsPaging(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/profiles/" + f.profile.String() + "/monitor-logs?limit=1"

	resp := f.do(t, http.MethodGet, path, "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	data := decodeData(t, resp)
	if data["nextCursor"] != "next-page" {
		t.Fatalf("expected next cursor, got %v", data["nextCursor"])
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %v", data["items"])
	}

	resp = f.do(t, http.MethodGet, path+"&cursor=bad", "", enums.OperatorRoleOperator, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor got %d", resp.Code)
	}
}

func TestDeadLetterAdminRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/outbox/dead-letters", "", enums.OperatorRoleOperator, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/outbox/dead-letters?limit=5", "", enums.OperatorRoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	items, ok := decodeData(t, resp)["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	first := items[0].(map[string]any)
	require.Equal(t, f.dead.String(), first["eventId"])
	require.NotContains(t, first, "payload")

	resp = f.do(t, http.MethodGet, "/api/v1/outbox/dead-letters?cursor=bad", "", enums.OperatorRoleAdmin, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/v1/outbox/dead-letters/"+f.dead.String(), "", enums.OperatorRoleAdmin, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	data := decodeData(t, resp)
	require.Equal(t, "max_attempts", data["reason"])
	require.Equal(t, map[string]any{"reason": "timeout"}, data["payload"])

	resp = f.do(t, http.MethodGet, "/api/v1/outbox/dead-letters/"+uuid.NewString(), "", enums.OperatorRoleAdmin, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

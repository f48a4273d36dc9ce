package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-reviews-backend/internal/config"
	"github.com/tbourn/go-reviews-backend/internal/http/middleware"
	"github.com/tbourn/go-reviews-backend/internal/repo"
)

const testSecret = "router-test-secret"

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      100,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		DB:             config.DBConfig{Timeout: 2 * time.Second},
		IdempotencyTTL: time.Hour,
	}
}

func newTestEngine(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db}, cfg)
	return r, db
}

func serve(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func reviewBody(name, email string, rating int) string {
	return fmt.Sprintf(`{"name":%q,"email":%q,"rating":%d,"comment":"Lovely studio to work with."}`, name, email, rating)
}

func createdID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Review struct {
			ID string `json:"id"`
		} `json:"review"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Review.ID == "" {
		t.Fatalf("bad create response (%v): %s", err, w.Body.String())
	}
	return resp.Review.ID
}

func bearer(t *testing.T) map[string]string {
	t.Helper()
	tok, err := middleware.NewAdminToken(testSecret, "ops@studio", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestEngine(t, testConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// readiness pings the store
	w = serve(r, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"store":"up"`) {
		t.Fatalf("GET /api/v1/health = %d %s", w.Code, w.Body.String())
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w = serve(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestEngine(t, cfg)

	w := serve(r, http.MethodGet, "/api/v2/reviews", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/reviews = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestReviewFlow_SubmitListStatistics(t *testing.T) {
	cfg := testConfig()
	cfg.AutoApprove = true
	r, _ := newTestEngine(t, cfg)

	var ids []string
	for i, rating := range []int{5, 4, 5} {
		w := serve(r, http.MethodPost, "/api/v1/reviews",
			reviewBody("Client Number", fmt.Sprintf("client%d@email.com", i), rating), nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %d = %d %s", i, w.Code, w.Body.String())
		}
		ids = append(ids, createdID(t, w))
	}

	// duplicate email, different case
	w := serve(r, http.MethodPost, "/api/v1/reviews", reviewBody("Client Again", "CLIENT0@email.com", 3), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d %s", w.Code, w.Body.String())
	}

	// every invalid field is reported
	w = serve(r, http.MethodPost, "/api/v1/reviews", `{"name":"A","email":"nope","rating":6}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid = %d", w.Code)
	}
	var verr struct {
		Code   string `json:"code"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &verr)
	if verr.Code != "validation_failed" || len(verr.Errors) != 3 {
		t.Fatalf("validation body = %s", w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/v1/reviews?limit=2&sortBy=rating&sortOrder=ASC", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var page struct {
		Reviews []struct {
			Rating int `json:"rating"`
		} `json:"reviews"`
		Pagination struct {
			TotalPages   int   `json:"totalPages"`
			TotalReviews int64 `json:"totalReviews"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if len(page.Reviews) != 2 || page.Reviews[0].Rating != 4 || page.Pagination.TotalPages != 2 || page.Pagination.TotalReviews != 3 {
		t.Fatalf("list body = %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "@email.com") {
		t.Fatalf("list leaks email")
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	w = serve(r, http.MethodGet, "/api/v1/reviews?limit=2&sortBy=rating&sortOrder=asc", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/v1/reviews/statistics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	for _, want := range []string{`"totalReviews":3`, `"averageRating":4.7`, `"5":2`, `"4":1`, `"1":0`} {
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("stats missing %s: %s", want, w.Body.String())
		}
	}

	w = serve(r, http.MethodGet, "/api/v1/reviews/"+ids[1], "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"rating":4`) {
		t.Fatalf("get = %d %s", w.Code, w.Body.String())
	}
}

func TestReviewFlow_PendingByDefault(t *testing.T) {
	r, _ := newTestEngine(t, testConfig())

	w := serve(r, http.MethodPost, "/api/v1/reviews", reviewBody("Emily Rodriguez", "emily@email.com", 5), nil)
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), "after approval") {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	id := createdID(t, w)

	if w = serve(r, http.MethodGet, "/api/v1/reviews/"+id, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("pending review visible: %d", w.Code)
	}
	w = serve(r, http.MethodGet, "/api/v1/reviews/statistics", "", nil)
	if !strings.Contains(w.Body.String(), `"totalReviews":0`) {
		t.Fatalf("pending review counted: %s", w.Body.String())
	}
}

func TestIdempotentReplay_BypassesRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.0001
	cfg.RateBurst = 1
	r, db := newTestEngine(t, cfg)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "submit-7f3a"}
	body := reviewBody("Michael Chen", "michael.chen@email.com", 5)

	w := serve(r, http.MethodPost, "/api/v1/reviews", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("first = %d %s", w.Code, w.Body.String())
	}
	first := createdID(t, w)

	// same key: served from the recorded result without a token
	w = serve(r, http.MethodPost, "/api/v1/reviews", body, hdr)
	if w.Code != http.StatusCreated || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay = %d hdr=%q %s", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed), w.Body.String())
	}
	if got := createdID(t, w); got != first {
		t.Fatalf("replay returned %s, want %s", got, first)
	}

	var n int64
	if err := db.Table("reviews").Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("reviews stored = %d (%v)", n, err)
	}

	// a fresh key is a new submission and the bucket is empty
	w = serve(r, http.MethodPost, "/api/v1/reviews", reviewBody("Lisa Thompson", "lisa@email.com", 4),
		map[string]string{middleware.HeaderIdempotencyKey: "submit-8b21"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", w.Code)
	}

	// probes stay exempt
	if w = serve(r, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("readiness limited: %d", w.Code)
	}

	// malformed key
	w = serve(r, http.MethodPost, "/api/v1/reviews", body, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", w.Code)
	}
}

func TestIdempotencyKey_ReusedWithAnotherBody_DoesNotReplay(t *testing.T) {
	r, db := newTestEngine(t, testConfig())
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "abc"}

	owner := `{"name":"Alice Victim","email":"alice@example.com","rating":2,"comment":"private complaint"}`
	w := serve(r, http.MethodPost, "/api/v1/reviews", owner, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("owner submit = %d %s", w.Code, w.Body.String())
	}
	ownerID := createdID(t, w)
	if w = serve(r, http.MethodGet, "/api/v1/reviews/"+ownerID, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("pending review visible: %d", w.Code)
	}

	// another client, same key, different body
	w = serve(r, http.MethodPost, "/api/v1/reviews", reviewBody("Bob Other", "bob@example.com", 5), hdr)
	if w.Code != http.StatusCreated || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("other client = %d replayed=%q", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	}
	for _, leak := range []string{ownerID, "Alice Victim", "private complaint"} {
		if strings.Contains(w.Body.String(), leak) {
			t.Fatalf("response leaks %q: %s", leak, w.Body.String())
		}
	}
	if createdID(t, w) == ownerID {
		t.Fatalf("other client received the owner's review")
	}

	var n int64
	if err := db.Table("reviews").Count(&n).Error; err != nil || n != 2 {
		t.Fatalf("reviews stored = %d (%v)", n, err)
	}

	// the owner's retry with the same body still replays
	w = serve(r, http.MethodPost, "/api/v1/reviews", owner, hdr)
	if w.Code != http.StatusCreated || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" || createdID(t, w) != ownerID {
		t.Fatalf("owner retry = %d replayed=%q %s", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed), w.Body.String())
	}
}

func TestSubmit_WrongTypesListEveryField(t *testing.T) {
	r, _ := newTestEngine(t, testConfig())

	w := serve(r, http.MethodPost, "/api/v1/reviews", `{"name":"B","email":"bad","rating":"abc"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code   string `json:"code"`
		Errors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	fields := map[string]string{}
	for _, fe := range resp.Errors {
		fields[fe.Field] = fe.Message
	}
	if resp.Code != "validation_failed" || len(fields) != 3 || fields["rating"] != "rating must be a number" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestAdminRoutes_DisabledWithoutSecret(t *testing.T) {
	r, _ := newTestEngine(t, testConfig())
	id := uuid.NewString()

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/v1/admin/reviews/" + id},
		{http.MethodDelete, "/api/v1/reviews/" + id},
		{http.MethodPatch, "/api/v1/admin/reviews/" + id + "/approval"},
	} {
		if w := serve(r, tc.method, tc.path, `{"approved":true}`, nil); w.Code != http.StatusNotFound {
			t.Fatalf("%s %s = %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestAdminRoutes_ModerationFlow(t *testing.T) {
	cfg := testConfig()
	cfg.AdminJWTSecret = testSecret
	r, _ := newTestEngine(t, cfg)

	w := serve(r, http.MethodPost, "/api/v1/reviews", reviewBody("David Williams", "david@email.com", 4), nil)
	id := createdID(t, w)
	approval := "/api/v1/admin/reviews/" + id + "/approval"

	// no token
	w = serve(r, http.MethodPatch, approval, `{"approved":true}`, nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("unauthenticated approval = %d", w.Code)
	}

	// approve
	w = serve(r, http.MethodPatch, approval, `{"approved":true}`, bearer(t))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"approved":true`) {
		t.Fatalf("approve = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("admin response Cache-Control = %q", got)
	}
	if w = serve(r, http.MethodGet, "/api/v1/reviews/"+id, "", nil); w.Code != http.StatusOK {
		t.Fatalf("approved review not visible: %d", w.Code)
	}

	// delete through the public path, then again through the admin path
	if w = serve(r, http.MethodDelete, "/api/v1/reviews/"+id, "", bearer(t)); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body.String())
	}
	if w = serve(r, http.MethodDelete, "/api/v1/admin/reviews/"+id, "", bearer(t)); w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", w.Code)
	}
}

func TestReadiness_StoreDown(t *testing.T) {
	r, db := newTestEngine(t, testConfig())

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	w := serve(r, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "store_unavailable") {
		t.Fatalf("readiness = %d %s", w.Code, w.Body.String())
	}
	// liveness does not touch the store
	if w = serve(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("liveness = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, http.MethodGet, path, "", nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

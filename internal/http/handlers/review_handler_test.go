package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-reviews-backend/internal/domain"
	"github.com/tbourn/go-reviews-backend/internal/http/middleware"
	"github.com/tbourn/go-reviews-backend/internal/services"
)

// ---------- stubs ----------

type stubReviewSvc struct {
	mu sync.Mutex

	submitIn  services.SubmitInput
	submitOut *domain.Review
	submitErr error
	validate  bool // run the real submission checks before submitOut/submitErr

	byID    map[string]*domain.Review
	findErr error

	listQ   services.ListQuery
	listRes *services.ListResult
	listErr error
	lists   int

	versionCount int64
	versionAt    *time.Time
	versionErr   error

	stats    domain.ReviewStats
	statsErr error

	deleted   []string
	deleteErr error

	approvals []bool
	readyErr  error
}

func (s *stubReviewSvc) Submit(_ context.Context, in services.SubmitInput) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitIn = in
	if s.validate {
		if _, err := services.ValidateSubmission(in); err != nil {
			return nil, err
		}
	}
	return s.submitOut, s.submitErr
}

func (s *stubReviewSvc) Get(_ context.Context, id string) (*domain.Review, error) {
	r, ok := s.byID[id]
	if !ok || !r.Approved {
		return nil, services.ErrReviewNotFound
	}
	return r, nil
}

func (s *stubReviewSvc) Find(_ context.Context, id string) (*domain.Review, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	r, ok := s.byID[id]
	if !ok {
		return nil, services.ErrReviewNotFound
	}
	return r, nil
}

func (s *stubReviewSvc) List(_ context.Context, q services.ListQuery) (*services.ListResult, error) {
	s.lists++
	s.listQ = q
	return s.listRes, s.listErr
}

func (s *stubReviewSvc) ListVersion(context.Context) (int64, *time.Time, error) {
	return s.versionCount, s.versionAt, s.versionErr
}

func (s *stubReviewSvc) Statistics(context.Context) (domain.ReviewStats, error) {
	return s.stats, s.statsErr
}

func (s *stubReviewSvc) Delete(_ context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubReviewSvc) SetApproval(_ context.Context, id string, approved bool) (*domain.Review, error) {
	r, ok := s.byID[id]
	if !ok {
		return nil, services.ErrReviewNotFound
	}
	s.approvals = append(s.approvals, approved)
	cp := *r
	cp.Approved = approved
	return &cp, nil
}

func (s *stubReviewSvc) Ready(context.Context) error { return s.readyErr }

type stubRecorder struct {
	scope, key, fingerprint, id string
	status                      int
	err                         error
}

func (r *stubRecorder) Record(_ context.Context, scope, key, fingerprint, id string, status int) error {
	r.scope, r.key, r.fingerprint, r.id, r.status = scope, key, fingerprint, id, status
	return r.err
}

// ---------- helpers ----------

func sampleReview(approved bool) *domain.Review {
	at := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	return &domain.Review{
		ID:        uuid.NewString(),
		Name:      "Sarah Johnson",
		Email:     "sarah.johnson@email.com",
		Rating:    5,
		Comment:   "Stunning work on our loft.",
		Approved:  approved,
		IPAddress: "127.0.0.1",
		UserAgent: "Mozilla/5.0",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func newTestRouter(svc ReviewService, rec IdempotencyRecorder, lookup middleware.IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		Scopes: map[string]string{"POST /reviews": "reviews"},
	}, lookup))

	h := New(svc, rec)
	r.POST("/reviews", h.SubmitReview)
	r.GET("/reviews", h.ListReviews)
	r.GET("/reviews/statistics", h.GetStatistics)
	r.GET("/reviews/:id", h.GetReview)
	r.DELETE("/admin/reviews/:id", h.DeleteReview)
	r.PATCH("/admin/reviews/:id/approval", h.SetApproval)
	r.GET("/health", h.Ready)
	return r
}

func doJSON(r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return er
}

// ---------- submit ----------

func TestSubmitReview_Created(t *testing.T) {
	stored := sampleReview(false)
	svc := &stubReviewSvc{submitOut: stored}
	r := newTestRouter(svc, nil, nil)

	w := doJSON(r, http.MethodPost, "/reviews",
		`{"name":"Sarah Johnson","email":"sarah.johnson@email.com","rating":5,"comment":"Stunning work on our loft."}`,
		map[string]string{"User-Agent": "ua-test/1.0"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp SubmitReviewResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Review.ID != stored.ID || resp.Review.Approved || !strings.Contains(resp.Message, "after approval") {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if strings.Contains(w.Body.String(), "sarah.johnson@email.com") || strings.Contains(w.Body.String(), "127.0.0.1") {
		t.Fatalf("response leaks private fields: %s", w.Body.String())
	}
	if svc.submitIn.Rating != 5 || svc.submitIn.UserAgent != "ua-test/1.0" || svc.submitIn.IPAddress == "" {
		t.Fatalf("service input = %+v", svc.submitIn)
	}
}

func TestSubmitReview_RatingParsing(t *testing.T) {
	cases := []struct {
		body string
		nan  bool
		want float64
	}{
		{`{"rating":4}`, false, 4},
		{`{"rating":3.5}`, false, 3.5},
		{`{"rating":"2"}`, false, 2},
		{`{}`, true, 0},
		{`{"rating":null}`, true, 0},
	}
	for _, tc := range cases {
		svc := &stubReviewSvc{submitErr: &domain.ValidationError{Fields: []domain.FieldError{{Field: "name", Message: "name is required"}}}}
		r := newTestRouter(svc, nil, nil)
		w := doJSON(r, http.MethodPost, "/reviews", tc.body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.body, w.Code)
		}
		got := svc.submitIn.Rating
		if tc.nan != math.IsNaN(got) || (!tc.nan && got != tc.want) {
			t.Fatalf("%s: rating passed = %v", tc.body, got)
		}
	}
}

func TestSubmitReview_ErrorMapping(t *testing.T) {
	ve := &domain.ValidationError{}
	ve.Add("email", "please provide a valid email address")
	ve.Add("rating", "rating must be an integer between 1 and 5")

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ve, http.StatusBadRequest, ErrCodeValidation},
		{services.ErrDuplicateReview, http.StatusConflict, ErrCodeConflict},
		{fmt.Errorf("%w: context deadline exceeded", services.ErrStoreUnavailable), http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		r := newTestRouter(&stubReviewSvc{submitErr: tc.err}, nil, nil)
		w := doJSON(r, http.MethodPost, "/reviews", `{"name":"X","email":"x","rating":9}`, nil)
		if w.Code != tc.status {
			t.Fatalf("%v: status = %d", tc.err, w.Code)
		}
		er := decodeError(t, w)
		if er.Code != tc.code || er.RequestID == "" {
			t.Fatalf("%v: body = %+v", tc.err, er)
		}
		if tc.code == ErrCodeValidation && len(er.Errors) != 2 {
			t.Fatalf("expected both field errors, got %+v", er.Errors)
		}
	}
}

func TestSubmitReview_BadJSON(t *testing.T) {
	r := newTestRouter(&stubReviewSvc{}, nil, nil)
	w := doJSON(r, http.MethodPost, "/reviews", `{"name":`, nil)
	if w.Code != http.StatusBadRequest || decodeError(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitReview_WrongTypesAreFieldErrors(t *testing.T) {
	svc := &stubReviewSvc{validate: true, submitErr: errors.New("must not be reached")}
	r := newTestRouter(svc, nil, nil)

	w := doJSON(r, http.MethodPost, "/reviews", `{"name":"B","email":"bad","rating":"abc"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	er := decodeError(t, w)
	if er.Code != ErrCodeValidation {
		t.Fatalf("code = %q", er.Code)
	}
	got := map[string]string{}
	for _, fe := range er.Errors {
		got[fe.Field] = fe.Message
	}
	if len(got) != 3 || got["rating"] != "rating must be a number" || got["name"] == "" || got["email"] == "" {
		t.Fatalf("errors = %+v", er.Errors)
	}

	cases := []struct {
		body  string
		field string
		msg   string
	}{
		{`{"name":"Sarah Johnson","email":"s@example.com","rating":true}`, "rating", "rating must be a number"},
		{`{"name":"Sarah Johnson","email":"s@example.com","rating":""}`, "rating", "rating must be a number"},
		{`{"name":123,"email":"s@example.com","rating":5}`, "name", "name must be a string"},
		{`{"name":"Sarah Johnson","email":["s@example.com"],"rating":5}`, "email", "email must be a string"},
		{`{"name":"Sarah Johnson","email":"s@example.com","rating":5,"comment":{}}`, "comment", "comment must be a string"},
	}
	for _, tc := range cases {
		w := doJSON(r, http.MethodPost, "/reviews", tc.body, nil)
		er := decodeError(t, w)
		if w.Code != http.StatusBadRequest || er.Code != ErrCodeValidation || len(er.Errors) != 1 {
			t.Fatalf("%s: status=%d body=%+v", tc.body, w.Code, er)
		}
		if er.Errors[0].Field != tc.field || er.Errors[0].Message != tc.msg {
			t.Fatalf("%s: error = %+v", tc.body, er.Errors[0])
		}
	}
}

func TestSubmitReview_IdempotencyRecordAndReplay(t *testing.T) {
	stored := sampleReview(false)
	svc := &stubReviewSvc{submitOut: stored, byID: map[string]*domain.Review{stored.ID: stored}}
	rec := &stubRecorder{}
	body := `{"name":"Sarah Johnson","email":"Sarah.Johnson@email.com","rating":5}`

	// first request: nothing recorded yet
	r := newTestRouter(svc, rec, func(context.Context, string, string, string, time.Time) (string, bool, error) {
		return "", false, nil
	})
	hdr := map[string]string{middleware.HeaderIdempotencyKey: "retry-key-1"}
	w := doJSON(r, http.MethodPost, "/reviews", body, hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if rec.scope != "reviews" || rec.key != "retry-key-1" || rec.id != stored.ID || rec.status != http.StatusCreated {
		t.Fatalf("recorded = %+v", rec)
	}
	if rec.fingerprint != middleware.Fingerprint([]byte(body)) {
		t.Fatalf("recorded fingerprint = %q", rec.fingerprint)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first response must not be marked replayed")
	}

	// retry: lookup resolves the key; Submit must not run again
	svc.submitOut, svc.submitErr = nil, errors.New("must not be called")
	r = newTestRouter(svc, rec, func(_ context.Context, _, _, fingerprint string, _ time.Time) (string, bool, error) {
		return stored.ID, fingerprint == rec.fingerprint, nil
	})
	w = doJSON(r, http.MethodPost, "/reviews", body, hdr)
	if w.Code != http.StatusCreated || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay status=%d hdr=%q body=%s", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed), w.Body.String())
	}
	var resp SubmitReviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Review.ID != stored.ID {
		t.Fatalf("replayed review = %+v", resp.Review)
	}
}

func TestSubmitReview_ReplaySkippedForAnotherEmail(t *testing.T) {
	stored := sampleReview(false)
	other := sampleReview(false)
	svc := &stubReviewSvc{submitOut: other, byID: map[string]*domain.Review{stored.ID: stored}}

	// the key resolves, but the stored review is not the one this body creates
	r := newTestRouter(svc, &stubRecorder{}, func(context.Context, string, string, string, time.Time) (string, bool, error) {
		return stored.ID, true, nil
	})
	w := doJSON(r, http.MethodPost, "/reviews",
		`{"name":"Mallory Jones","email":"mallory@example.com","rating":1}`,
		map[string]string{middleware.HeaderIdempotencyKey: "retry-key-1"})

	if w.Code != http.StatusCreated || w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("status=%d replayed=%q", w.Code, w.Header().Get(middleware.HeaderIdempotencyReplayed))
	}
	if svc.submitIn.Email != "mallory@example.com" {
		t.Fatalf("submission should be processed, got %+v", svc.submitIn)
	}
	var resp SubmitReviewResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Review.ID != other.ID || strings.Contains(w.Body.String(), stored.ID) {
		t.Fatalf("stored review leaked: %s", w.Body.String())
	}
}

func TestSubmitReview_RecordFailureStillCreated(t *testing.T) {
	stored := sampleReview(true)
	r := newTestRouter(&stubReviewSvc{submitOut: stored}, &stubRecorder{err: errors.New("database is locked")}, nil)
	w := doJSON(r, http.MethodPost, "/reviews", `{"rating":5}`, map[string]string{middleware.HeaderIdempotencyKey: "k"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"message":"Review submitted successfully."`) {
		t.Fatalf("approved message missing: %s", w.Body.String())
	}
}

// ---------- list ----------

func TestListReviews_QueryAndETag(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubReviewSvc{
		versionCount: 3,
		versionAt:    &at,
		listRes: &services.ListResult{
			Reviews:    []domain.PublicReview{sampleReview(true).Public()},
			Pagination: services.Pagination{CurrentPage: 2, TotalPages: 3, Limit: 1, TotalReviews: 3},
		},
	}
	r := newTestRouter(svc, nil, nil)

	w := doJSON(r, http.MethodGet, "/reviews?page=2&limit=1&sortBy=rating&sortOrder=asc", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := services.ListQuery{Page: 2, Limit: 1, SortBy: "rating", SortOrder: "asc"}
	if svc.listQ != want {
		t.Fatalf("query = %+v; want %+v", svc.listQ, want)
	}
	var res services.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("json: %v", err)
	}
	if res.Pagination.TotalPages != 3 || len(res.Reviews) != 1 {
		t.Fatalf("body = %+v", res)
	}
	if strings.Contains(w.Body.String(), "email") {
		t.Fatalf("list leaks email: %s", w.Body.String())
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"reviews:3:`) {
		t.Fatalf("etag = %q", etag)
	}

	// matching If-None-Match -> 304 without listing
	before := svc.lists
	w = doJSON(r, http.MethodGet, "/reviews?page=2&limit=1&sortBy=rating&sortOrder=asc", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || svc.lists != before {
		t.Fatalf("status = %d lists=%d", w.Code, svc.lists-before)
	}

	// a different query produces a different tag
	w = doJSON(r, http.MethodGet, "/reviews?page=1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK || w.Header().Get("ETag") == etag {
		t.Fatalf("different query must not match: %d %q", w.Code, w.Header().Get("ETag"))
	}
}

func TestListReviews_DefaultsForGarbageParams(t *testing.T) {
	svc := &stubReviewSvc{listRes: &services.ListResult{Reviews: []domain.PublicReview{}}}
	r := newTestRouter(svc, nil, nil)

	w := doJSON(r, http.MethodGet, "/reviews?page=abc&limit=&sortBy=email", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.listQ.Page != services.DefaultPage || svc.listQ.Limit != services.DefaultLimit || svc.listQ.SortBy != "email" {
		t.Fatalf("query = %+v", svc.listQ)
	}
}

func TestListReviews_StoreUnavailable(t *testing.T) {
	svc := &stubReviewSvc{
		versionErr: services.ErrStoreUnavailable,
		listErr:    fmt.Errorf("%w: database is closed", services.ErrStoreUnavailable),
	}
	r := newTestRouter(svc, nil, nil)
	w := doJSON(r, http.MethodGet, "/reviews", nil, nil)
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("ETag") != "" {
		t.Fatalf("status = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

// ---------- statistics / get ----------

func TestGetStatistics(t *testing.T) {
	svc := &stubReviewSvc{stats: domain.ReviewStats{
		TotalReviews:       5,
		AverageRating:      4.4,
		RatingDistribution: map[int]int64{1: 0, 2: 0, 3: 1, 4: 1, 5: 3},
	}}
	w := doJSON(newTestRouter(svc, nil, nil), http.MethodGet, "/reviews/statistics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"totalReviews":5`, `"averageRating":4.4`, `"3":1`, `"5":3`, `"1":0`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %s: %s", want, body)
		}
	}

	svc.statsErr = fmt.Errorf("%w: timeout", services.ErrStoreUnavailable)
	w = doJSON(newTestRouter(svc, nil, nil), http.MethodGet, "/reviews/statistics", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetReview(t *testing.T) {
	pub := sampleReview(true)
	pending := sampleReview(false)
	svc := &stubReviewSvc{byID: map[string]*domain.Review{pub.ID: pub, pending.ID: pending}}
	r := newTestRouter(svc, nil, nil)

	w := doJSON(r, http.MethodGet, "/reviews/"+pub.ID, nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"createdAtFormatted":"March 7, 2024"`) {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "sarah.johnson@email.com") {
		t.Fatalf("leaks email")
	}
	if w := doJSON(r, http.MethodGet, "/reviews/"+pending.ID, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("pending review visible: %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/reviews/not-a-uuid", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
}

// ---------- admin ----------

func TestDeleteReview(t *testing.T) {
	svc := &stubReviewSvc{}
	r := newTestRouter(svc, nil, nil)
	id := uuid.NewString()

	if w := doJSON(r, http.MethodDelete, "/admin/reviews/"+id, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != id {
		t.Fatalf("deleted = %v", svc.deleted)
	}

	svc.deleteErr = services.ErrReviewNotFound
	if w := doJSON(r, http.MethodDelete, "/admin/reviews/"+id, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing review status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, "/admin/reviews/123", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
}

func TestSetApproval(t *testing.T) {
	rv := sampleReview(false)
	svc := &stubReviewSvc{byID: map[string]*domain.Review{rv.ID: rv}}
	r := newTestRouter(svc, nil, nil)
	path := "/admin/reviews/" + rv.ID + "/approval"

	w := doJSON(r, http.MethodPatch, path, `{"approved":true}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"approved":true`) {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if len(svc.approvals) != 1 || !svc.approvals[0] {
		t.Fatalf("approvals = %v", svc.approvals)
	}

	for _, body := range []string{`{}`, `{"approved":"yes"}`, `nope`} {
		if w := doJSON(r, http.MethodPatch, path, body, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, w.Code)
		}
	}
	if w := doJSON(r, http.MethodPatch, "/admin/reviews/"+uuid.NewString()+"/approval", `{"approved":false}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", w.Code)
	}
}

// ---------- health ----------

func TestReady(t *testing.T) {
	svc := &stubReviewSvc{}
	r := newTestRouter(svc, nil, nil)
	if w := doJSON(r, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"store":"up"`) {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	svc.readyErr = fmt.Errorf("%w: ping", services.ErrStoreUnavailable)
	if w := doJSON(r, http.MethodGet, "/health", nil, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

// Review HTTP handlers.
//
// This file exposes REST endpoints for customer reviews:
//   - POST   /reviews                        (submit, Idempotency-Key aware)
//   - GET    /reviews                        (approved reviews, paginated, ETag)
//   - GET    /reviews/statistics             (aggregate over approved reviews)
//   - GET    /reviews/{id}                   (one approved review)
//   - DELETE /reviews/{id}                   (admin)
//   - DELETE /admin/reviews/{id}             (admin)
//   - PATCH  /admin/reviews/{id}/approval    (admin, moderation)
//   - GET    /health                         (readiness)
//
// Handlers are transport-thin: they parse input, call the review service and
// translate results into HTTP responses via failErr/ok/noContent.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-reviews-backend/internal/domain"
	"github.com/tbourn/go-reviews-backend/internal/http/middleware"
	"github.com/tbourn/go-reviews-backend/internal/services"
	"github.com/tbourn/go-reviews-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ReviewService defines the review operations consumed by HTTP handlers.
// Implemented by *services.ReviewService.
type ReviewService interface {
	Submit(ctx context.Context, in services.SubmitInput) (*domain.Review, error)
	Get(ctx context.Context, id string) (*domain.Review, error)
	Find(ctx context.Context, id string) (*domain.Review, error)
	List(ctx context.Context, q services.ListQuery) (*services.ListResult, error)
	ListVersion(ctx context.Context) (int64, *time.Time, error)
	Statistics(ctx context.Context) (domain.ReviewStats, error)
	Delete(ctx context.Context, id string) error
	SetApproval(ctx context.Context, id string, approved bool) (*domain.Review, error)
	Ready(ctx context.Context) error
}

// IdempotencyRecorder stores the resource produced for an idempotency key.
// Implemented by *services.IdempotencyService.
type IdempotencyRecorder interface {
	Record(ctx context.Context, scope, key, fingerprint, resourceID string, status int) error
}

//
// Handler wiring
//

// Handlers groups the review endpoints.
type Handlers struct {
	reviews ReviewService
	idem    IdempotencyRecorder
}

// New constructs Handlers. idem may be nil, which disables recording of
// idempotency keys.
func New(reviews ReviewService, idem IdempotencyRecorder) *Handlers {
	return &Handlers{reviews: reviews, idem: idem}
}

//
// DTOs
//

// SubmitReviewRequest documents the JSON payload for a new review. The handler
// decodes it field by field (submitFields) so that a wrongly typed value is
// reported as a field violation instead of a decode error.
type SubmitReviewRequest struct {
	Name    string      `json:"name" example:"Sarah Johnson"`
	Email   string      `json:"email" example:"sarah.johnson@email.com"`
	Rating  json.Number `json:"rating" swaggertype:"integer" example:"5"`
	Comment string      `json:"comment" example:"The team transformed our living room beyond expectations."`
}

// ReviewResponse is the review shape returned to the submitter and to
// moderators. It never includes the email or audit fields.
type ReviewResponse struct {
	ID        string    `json:"id" example:"0b8f1c7e-3b0c-4a57-9d1f-2f6a1b3c4d5e"`
	Name      string    `json:"name" example:"Sarah Johnson"`
	Rating    int       `json:"rating" example:"5"`
	Comment   string    `json:"comment"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// submitFields is the raw form of SubmitReviewRequest.
type submitFields struct {
	Name    json.RawMessage `json:"name"`
	Email   json.RawMessage `json:"email"`
	Rating  json.RawMessage `json:"rating"`
	Comment json.RawMessage `json:"comment"`
}

// SubmitReviewResponse wraps a newly stored review.
type SubmitReviewResponse struct {
	Message string         `json:"message" example:"Review submitted successfully. It will be visible after approval."`
	Review  ReviewResponse `json:"review"`
}

// SetApprovalRequest toggles public visibility of a review.
type SetApprovalRequest struct {
	Approved *bool `json:"approved" binding:"required" example:"true"`
}

// HealthResponse reports readiness.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Store  string `json:"store" example:"up"`
}

//
// Helpers
//

func toResponse(r *domain.Review) ReviewResponse {
	return ReviewResponse{
		ID:        r.ID,
		Name:      r.Name,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Approved:  r.Approved,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func submitMessage(r *domain.Review) string {
	if r.Approved {
		return "Review submitted successfully."
	}
	return "Review submitted successfully. It will be visible after approval."
}

// parseRating converts the raw JSON number; anything unusable becomes NaN,
// which the service reports as a rating violation.
func parseRating(n json.Number) float64 {
	if n == "" {
		return math.NaN()
	}
	f, err := n.Float64()
	if err != nil {
		return math.NaN()
	}
	return f
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// input converts the raw fields. Missing or null fields stay empty so the
// service reports them as required; values of the wrong JSON type become
// TypeErrors.
func (f submitFields) input() services.SubmitInput {
	in := services.SubmitInput{Rating: math.NaN()}

	text := func(field string, raw json.RawMessage, dst *string) {
		if isNull(raw) {
			return
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			in.TypeErrors = append(in.TypeErrors, domain.FieldError{Field: field, Message: field + " must be a string"})
		}
	}
	text("name", f.Name, &in.Name)
	text("email", f.Email, &in.Email)
	text("comment", f.Comment, &in.Comment)

	if !isNull(f.Rating) {
		var n json.Number
		if err := json.Unmarshal(f.Rating, &n); err != nil {
			in.TypeErrors = append(in.TypeErrors, domain.FieldError{Field: "rating", Message: "rating must be a number"})
		} else {
			in.Rating = parseRating(n)
		}
	}
	return in
}

// reviewID reads and validates the :id path parameter.
func reviewID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "review id must be a UUID")
		return "", false
	}
	return id, true
}

// listQuery reads page/limit/sortBy/sortOrder; unparsable numbers fall back to
// defaults and the service clamps the rest.
func listQuery(c *gin.Context) services.ListQuery {
	return services.ListQuery{
		Page:      utils.AtoiDefault(c.Query("page"), services.DefaultPage),
		Limit:     utils.AtoiDefault(c.Query("limit"), services.DefaultLimit),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
}

//
// Handlers
//

// SubmitReview godoc
// @ID          submitReview
// @Summary     Submit a review
// @Description Validates and stores a customer review. New reviews are pending until approved
// @Description unless the deployment auto-approves. Supports Idempotency-Key (same key and body → same review).
// @Tags        Reviews
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SubmitReviewRequest  true  "Review payload"
//
// @Success     201  {object}  handlers.SubmitReviewResponse
// @Header      201  {string}  Idempotency-Replayed  "true when served from a previous identical request"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already reviewed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /reviews [post]
func (h *Handlers) SubmitReview(c *gin.Context) {
	ctx := c.Request.Context()

	var req submitFields
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	in := req.input()

	// Replay path: the middleware matched key and body to a stored review.
	// It is only served while that review still belongs to this email.
	if id, replay := middleware.ReplayResourceID(c); replay {
		prev, err := h.reviews.Find(ctx, id)
		if err == nil && prev.Email == domain.NormalizeEmail(in.Email) {
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			ok(c, http.StatusCreated, SubmitReviewResponse{Message: submitMessage(prev), Review: toResponse(prev)})
			return
		}
	}

	in.IPAddress = c.ClientIP()
	in.UserAgent = c.Request.UserAgent()
	r, err := h.reviews.Submit(ctx, in)
	if err != nil {
		failErr(c, err)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.idem != nil {
		if err := h.idem.Record(ctx, middleware.IdempotencyScope(c), key, middleware.IdempotencyFingerprint(c), r.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("review_id", r.ID).Msg("idempotency record failed")
		}
	}

	ok(c, http.StatusCreated, SubmitReviewResponse{Message: submitMessage(r), Review: toResponse(r)})
}

// ListReviews godoc
// @ID          listReviews
// @Summary     List approved reviews (paginated)
// @Description Returns a page of approved reviews. Unknown sort keys fall back to createdAt;
// @Description out-of-range page/limit values are clamped. Supports weak ETag via If-None-Match.
// @Tags        Reviews
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       limit          query   int     false "Items per page"  minimum(1) maximum(100) default(10)
// @Param       sortBy         query   string  false "Sort key"        Enums(createdAt, rating, name) default(createdAt)
// @Param       sortOrder      query   string  false "Sort direction"  Enums(asc, desc) default(desc)
//
// @Success     200  {object} services.ListResult
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /reviews [get]
func (h *Handlers) ListReviews(c *gin.Context) {
	ctx := c.Request.Context()
	q := listQuery(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.reviews.ListVersion(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"reviews:%d:%d:%s"`, count, ts, q.Key())
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	res, err := h.reviews.List(ctx, q)
	if err != nil {
		c.Header("ETag", "")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// GetStatistics godoc
// @ID          getReviewStatistics
// @Summary     Review statistics
// @Description Count, average rating (one decimal, half-up) and 1–5 distribution over approved reviews.
// @Tags        Reviews
// @Produce     json
// @Success     200  {object} domain.ReviewStats
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /reviews/statistics [get]
func (h *Handlers) GetStatistics(c *gin.Context) {
	stats, err := h.reviews.Statistics(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetReview godoc
// @ID          getReview
// @Summary     Get an approved review
// @Description Returns one approved review. Pending reviews are reported as not found.
// @Tags        Reviews
// @Produce     json
// @Param       id   path     string  true  "Review ID (UUID)"  format(uuid)
// @Success     200  {object} domain.PublicReview
// @Failure     400  {object} handlers.ErrorResponse "Bad id"
// @Failure     404  {object} handlers.ErrorResponse "Review not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /reviews/{id} [get]
func (h *Handlers) GetReview(c *gin.Context) {
	id, valid := reviewID(c)
	if !valid {
		return
	}
	r, err := h.reviews.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, r.Public())
}

// DeleteReview godoc
// @ID          deleteReview
// @Summary     Delete a review
// @Description Hard-deletes a review in any approval state.
// @Tags        Admin
// @Security    AdminBearer
// @Param       id   path     string  true  "Review ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad id"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid admin token"
// @Failure     404  {object} handlers.ErrorResponse "Review not found"
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /admin/reviews/{id} [delete]
func (h *Handlers) DeleteReview(c *gin.Context) {
	id, valid := reviewID(c)
	if !valid {
		return
	}
	if err := h.reviews.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Info().
		Str("review_id", id).
		Str("admin", middleware.AdminSubject(c)).
		Msg("review deleted by admin")
	noContent(c)
}

// SetApproval godoc
// @ID          setReviewApproval
// @Summary     Approve or hide a review
// @Description Sets the approved flag; only approved and updatedAt change.
// @Tags        Admin
// @Security    AdminBearer
// @Accept      json
// @Produce     json
// @Param       id    path     string  true  "Review ID (UUID)"  format(uuid)
// @Param       body  body     handlers.SetApprovalRequest  true  "Approval state"
// @Success     200   {object} handlers.ReviewResponse
// @Failure     400   {object} handlers.ErrorResponse "Bad request"
// @Failure     401   {object} handlers.ErrorResponse "Missing or invalid admin token"
// @Failure     404   {object} handlers.ErrorResponse "Review not found"
// @Failure     503   {object} handlers.ErrorResponse "Store unavailable"
// @Router      /admin/reviews/{id}/approval [patch]
func (h *Handlers) SetApproval(c *gin.Context) {
	id, valid := reviewID(c)
	if !valid {
		return
	}
	var req SetApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, `body must be {"approved": true|false}`)
		return
	}

	r, err := h.reviews.SetApproval(c.Request.Context(), id, *req.Approved)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, toResponse(r))
}

// Ready godoc
// @ID          readiness
// @Summary     Readiness probe
// @Description Pings the review store within the store timeout.
// @Tags        Health
// @Produce     json
// @Success     200  {object} handlers.HealthResponse
// @Failure     503  {object} handlers.ErrorResponse "Store unavailable"
// @Router      /health [get]
func (h *Handlers) Ready(c *gin.Context) {
	if err := h.reviews.Ready(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, HealthResponse{Status: "ok", Store: "up"})
}

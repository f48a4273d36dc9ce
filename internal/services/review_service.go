// Package services – ReviewService
//
// This file implements ReviewService, the application-level component that
// owns the review lifecycle: validated submission, public listing with
// pagination and sorting, statistics over approved reviews, moderation and
// deletion. Every store call is bounded by StoreTimeout; an expired deadline
// or a lost connection is reported as ErrStoreUnavailable.
//
// Side effects (statistics cache invalidation, new-review notifications) are
// best effort and never change the result of the operation that caused them.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/cache"
	"github.com/tbourn/go-reviews-backend/internal/domain"
	"github.com/tbourn/go-reviews-backend/internal/notify"
	"github.com/tbourn/go-reviews-backend/internal/repo"
	"github.com/tbourn/go-reviews-backend/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStoreTimeout bounds store calls when StoreTimeout is unset.
const DefaultStoreTimeout = 5 * time.Second

// List bounds.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// StatsCache caches aggregate statistics. Implemented by cache.StatsCache.
// Set must refuse (cache.ErrStale) a value whose version was read before the
// most recent Invalidate.
type StatsCache interface {
	Get(ctx context.Context) (domain.ReviewStats, error)
	Version(ctx context.Context) (int64, error)
	Set(ctx context.Context, stats domain.ReviewStats, version int64) error
	Invalidate(ctx context.Context) error
}

// EventDispatcher schedules a notification without blocking. Implemented by
// notify.Dispatcher.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_submissions_total",
			Help: "Review submissions by result (created|invalid|duplicate|error).",
		},
		[]string{"result"},
	)
	statsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_stats_cache_total",
			Help: "Statistics cache lookups by result (hit|miss|error|stale).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal, statsCacheTotal)
}

// ReviewService coordinates review persistence, queries and statistics.
type ReviewService struct {
	DB *gorm.DB

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// AutoApprove publishes submissions immediately. When false (the default)
	// new reviews wait for moderation.
	AutoApprove bool

	// Optional collaborators; nil disables them.
	Cache    StatsCache
	Notifier EventDispatcher
}

// ListQuery holds raw list parameters. Out-of-range or unknown values are
// replaced by defaults rather than rejected.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string // createdAt (alias created_at) | rating | name
	SortOrder string // asc | desc, case-insensitive
}

// Pagination is the metadata returned with a page of reviews.
type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	Limit        int   `json:"limit"`
	TotalReviews int64 `json:"totalReviews"`
}

// ListResult is a page of public reviews.
type ListResult struct {
	Reviews    []domain.PublicReview `json:"reviews"`
	Pagination Pagination            `json:"pagination"`
}

// normalized resolves defaults and maps the sort key to a column.
func (q ListQuery) normalized() (page, limit int, column string, desc bool) {
	page, limit = q.Page, q.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	switch strings.TrimSpace(q.SortBy) {
	case "rating":
		column = repo.SortRating
	case "name":
		column = repo.SortName
	default: // createdAt, created_at, anything unknown
		column = repo.SortCreatedAt
	}

	desc = !strings.EqualFold(strings.TrimSpace(q.SortOrder), "asc")
	return page, limit, column, desc
}

// Key identifies the effective query after defaults are applied, so equal
// requests spelled differently share a cache key.
func (q ListQuery) Key() string {
	page, limit, column, desc := q.normalized()
	dir := "asc"
	if desc {
		dir = "desc"
	}
	return fmt.Sprintf("%d:%d:%s:%s", page, limit, column, dir)
}

// Submit validates in, stores it with the configured approval default and
// returns the stored review.
//
// Errors:
//   - *domain.ValidationError listing every violated field.
//   - ErrDuplicateReview when the normalized email already has a review
//     (pending or approved); enforced by the store's unique index.
//   - ErrStoreUnavailable on timeout or lost connection.
func (s *ReviewService) Submit(ctx context.Context, in SubmitInput) (*domain.Review, error) {
	ctx, span := s.tracer().Start(ctx, "Submit")
	defer span.End()

	r, err := ValidateSubmission(in)
	if err != nil {
		submissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	r.Approved = s.AutoApprove

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	out, err := repo.CreateReview(sctx, s.DB, r)
	if err != nil {
		var ve *domain.ValidationError
		switch {
		case errors.As(err, &ve):
			submissionsTotal.WithLabelValues("invalid").Inc()
			return nil, err
		case errors.Is(err, repo.ErrDuplicate):
			submissionsTotal.WithLabelValues("duplicate").Inc()
			return nil, ErrDuplicateReview
		}
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, s.fail(span, sctx, err)
	}
	submissionsTotal.WithLabelValues("created").Inc()
	span.SetAttributes(
		attribute.String("review.id", out.ID),
		attribute.Int("review.rating", out.Rating),
		attribute.Bool("review.approved", out.Approved),
	)

	logFrom(ctx).Info().
		Str("review_id", out.ID).
		Str("author", out.Name).
		Int("rating", out.Rating).
		Bool("approved", out.Approved).
		Msg("review submitted")

	if out.Approved {
		s.invalidateStats(ctx)
	}
	if s.Notifier != nil {
		s.Notifier.Dispatch(ctx, notify.NewSubmittedEvent(out))
	}
	return out, nil
}

// Get returns an approved review by id. Pending and missing reviews both
// yield ErrReviewNotFound.
func (s *ReviewService) Get(ctx context.Context, id string) (*domain.Review, error) {
	ctx, span := s.tracer().Start(ctx, "Get", trace.WithAttributes(attribute.String("review.id", id)))
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, err := repo.GetApprovedReview(sctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, s.fail(span, sctx, err)
	}
	return r, nil
}

// Find returns a review by id in any approval state.
func (s *ReviewService) Find(ctx context.Context, id string) (*domain.Review, error) {
	ctx, span := s.tracer().Start(ctx, "Find", trace.WithAttributes(attribute.String("review.id", id)))
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, err := repo.GetReview(sctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, s.fail(span, sctx, err)
	}
	return r, nil
}

// FindByEmail returns the review stored for email (compared normalized).
func (s *ReviewService) FindByEmail(ctx context.Context, email string) (*domain.Review, error) {
	ctx, span := s.tracer().Start(ctx, "FindByEmail")
	defer span.End()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, err := repo.GetReviewByEmail(sctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, s.fail(span, sctx, err)
	}
	return r, nil
}

// List returns a page of approved reviews in public form.
func (s *ReviewService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	page, limit, column, desc := q.normalized()

	ctx, span := s.tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("limit", limit),
			attribute.String("sort.column", column),
			attribute.Bool("sort.desc", desc),
		),
	)
	defer span.End()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	total, err := repo.CountApproved(sctx, s.DB)
	if err != nil {
		return nil, s.fail(span, sctx, err)
	}

	res := &ListResult{
		Reviews: []domain.PublicReview{},
		Pagination: Pagination{
			CurrentPage:  page,
			TotalPages:   utils.TotalPages(total, limit),
			Limit:        limit,
			TotalReviews: total,
		},
	}
	if total == 0 {
		return res, nil
	}

	items, err := repo.ListApprovedPage(sctx, s.DB, (page-1)*limit, limit, column, desc)
	if err != nil {
		return nil, s.fail(span, sctx, err)
	}
	for i := range items {
		res.Reviews = append(res.Reviews, items[i].Public())
	}
	return res, nil
}

// ListVersion returns change-detection metadata for the public list (number
// of approved reviews and their latest update), used for ETags.
func (s *ReviewService) ListVersion(ctx context.Context) (int64, *time.Time, error) {
	ctx, span := s.tracer().Start(ctx, "ListVersion")
	defer span.End()

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	count, maxAt, err := repo.ApprovedStats(sctx, s.DB)
	if err != nil {
		return 0, nil, s.fail(span, sctx, err)
	}
	return count, maxAt, nil
}

// Statistics returns count, average and distribution of approved reviews,
// served from the cache when possible. Cache failures fall back to the store.
func (s *ReviewService) Statistics(ctx context.Context) (domain.ReviewStats, error) {
	ctx, span := s.tracer().Start(ctx, "Statistics")
	defer span.End()

	// The version is read before the store so an invalidation racing with
	// the query makes the write below a no-op.
	cacheable := false
	var version int64
	if s.Cache != nil {
		stats, err := s.Cache.Get(ctx)
		switch {
		case err == nil:
			statsCacheTotal.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return stats, nil
		case errors.Is(err, cache.ErrMiss):
			statsCacheTotal.WithLabelValues("miss").Inc()
			if version, err = s.Cache.Version(ctx); err == nil {
				cacheable = true
			} else {
				logFrom(ctx).Warn().Err(err).Msg("stats cache version read failed")
			}
		default:
			statsCacheTotal.WithLabelValues("error").Inc()
			logFrom(ctx).Warn().Err(err).Msg("stats cache read failed")
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	stats, err := repo.ReviewStats(sctx, s.DB)
	if err != nil {
		return domain.ReviewStats{}, s.fail(span, sctx, err)
	}

	if cacheable {
		err := s.Cache.Set(ctx, stats, version)
		switch {
		case errors.Is(err, cache.ErrStale):
			statsCacheTotal.WithLabelValues("stale").Inc()
		case err != nil:
			logFrom(ctx).Warn().Err(err).Msg("stats cache write failed")
		}
	}
	return stats, nil
}

// Delete hard-deletes a review. A missing id yields ErrReviewNotFound.
func (s *ReviewService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete", trace.WithAttributes(attribute.String("review.id", id)))
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := repo.DeleteReview(sctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrReviewNotFound
		}
		return s.fail(span, sctx, err)
	}

	logFrom(ctx).Info().Str("review_id", id).Msg("review deleted")
	s.invalidateStats(ctx)
	return nil
}

// SetApproval publishes (approved=true) or hides a review. Only the approved
// flag and updated_at change.
func (s *ReviewService) SetApproval(ctx context.Context, id string, approved bool) (*domain.Review, error) {
	ctx, span := s.tracer().Start(ctx, "SetApproval",
		trace.WithAttributes(
			attribute.String("review.id", id),
			attribute.Bool("review.approved", approved),
		),
	)
	defer span.End()

	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	r, err := repo.SetApproved(sctx, s.DB, id, approved)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, s.fail(span, sctx, err)
	}

	logFrom(ctx).Info().Str("review_id", id).Bool("approved", approved).Msg("review approval changed")
	s.invalidateStats(ctx)
	return r, nil
}

// Ready pings the store within the store timeout.
func (s *ReviewService) Ready(ctx context.Context) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := repo.Ping(sctx, s.DB); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ReviewService) tracer() trace.Tracer {
	return otel.Tracer("services/ReviewService")
}

func (s *ReviewService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.StoreTimeout
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *ReviewService) invalidateStats(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx); err != nil {
		logFrom(ctx).Warn().Err(err).Msg("stats cache invalidation failed")
	}
}

// fail records err on span and classifies it. Store timeouts and connection
// failures become ErrStoreUnavailable; anything else is returned as is.
func (s *ReviewService) fail(span trace.Span, sctx context.Context, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if isUnavailable(sctx, err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// isUnavailable reports whether err means the store could not answer.
func isUnavailable(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "failed to connect")
}

// logFrom returns the request-scoped logger stored in ctx, falling back to
// the global logger.
func logFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

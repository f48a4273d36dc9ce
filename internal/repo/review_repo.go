// Package repo implements the data persistence layer for reviews, backed by
// GORM. This file provides repository functions for the Review model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic beyond the
// schema invariants of a stored review.
//
// Error semantics:
//   - When a review is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Inserting a second review for the same normalized email returns
//     ErrDuplicate, regardless of driver.
//   - Field-bound violations return *domain.ValidationError before any write.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation: a review already
// exists for the email, or an idempotency key was already recorded.
var ErrDuplicate = errors.New("duplicate")

// Sortable review columns.
const (
	SortCreatedAt = "created_at"
	SortRating    = "rating"
	SortName      = "name"
)

var sortColumns = map[string]bool{
	SortCreatedAt: true,
	SortRating:    true,
	SortName:      true,
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite and some pgx paths return plain-text errors instead of
// gorm.ErrDuplicatedKey, so the message is checked too.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	// SQLite: "UNIQUE constraint failed"; Postgres: "duplicate key value violates unique constraint"
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// CreateReview validates and inserts r. The email is normalized first and a
// UUID is assigned when r.ID is empty. Uniqueness of the email is left to the
// database index so concurrent submissions cannot both succeed.
func CreateReview(ctx context.Context, db *gorm.DB, r *domain.Review) (*domain.Review, error) {
	r.Email = domain.NormalizeEmail(r.Email)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return r, nil
}

// GetReview fetches a review by id regardless of approval state.
func GetReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetApprovedReview fetches a review by id only if it is approved.
func GetApprovedReview(ctx context.Context, db *gorm.DB, id string) (*domain.Review, error) {
	var r domain.Review
	err := db.WithContext(ctx).
		Where("id = ? AND approved = ?", id, true).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReviewByEmail finds the review for email, compared after normalization.
func GetReviewByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Review, error) {
	var r domain.Review
	err := db.WithContext(ctx).
		Where("email = ?", domain.NormalizeEmail(email)).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteReview hard-deletes the review with id. It returns ErrNotFound when
// no row matched.
func DeleteReview(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetApproved updates only the approved flag and updated_at of a review and
// returns the refreshed row.
func SetApproved(ctx context.Context, db *gorm.DB, id string, approved bool) (*domain.Review, error) {
	res := db.WithContext(ctx).
		Model(&domain.Review{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"approved":   approved,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetReview(ctx, db, id)
}

// CountApproved returns the number of approved reviews.
func CountApproved(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Review{}).
		Where("approved = ?", true).
		Count(&total).Error
	return total, err
}

// ListApprovedPage returns a page of approved reviews ordered by column
// (one of the Sort* constants; anything else falls back to created_at).
// Ties are broken by created_at ascending, then id ascending, so paging is
// deterministic.
func ListApprovedPage(ctx context.Context, db *gorm.DB, offset, limit int, column string, desc bool) ([]domain.Review, error) {
	if !sortColumns[column] {
		column = SortCreatedAt
	}
	q := db.WithContext(ctx).
		Where("approved = ?", true).
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	if column != SortCreatedAt {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: SortCreatedAt}})
	}

	var out []domain.Review
	err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ReviewStats computes count, average and per-rating distribution of approved
// reviews in a single aggregate query, so the figures come from one snapshot.
func ReviewStats(ctx context.Context, db *gorm.DB) (domain.ReviewStats, error) {
	var row struct {
		Total     int64
		RatingSum int64
		R1        int64
		R2        int64
		R3        int64
		R4        int64
		R5        int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Review{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(rating), 0) AS rating_sum,
			COALESCE(SUM(CASE WHEN rating = 1 THEN 1 ELSE 0 END), 0) AS r1,
			COALESCE(SUM(CASE WHEN rating = 2 THEN 1 ELSE 0 END), 0) AS r2,
			COALESCE(SUM(CASE WHEN rating = 3 THEN 1 ELSE 0 END), 0) AS r3,
			COALESCE(SUM(CASE WHEN rating = 4 THEN 1 ELSE 0 END), 0) AS r4,
			COALESCE(SUM(CASE WHEN rating = 5 THEN 1 ELSE 0 END), 0) AS r5`).
		Where("approved = ?", true).
		Scan(&row).Error
	if err != nil {
		return domain.ReviewStats{}, err
	}

	stats := domain.EmptyStats()
	if row.Total == 0 {
		return stats, nil
	}
	stats.TotalReviews = row.Total
	stats.AverageRating = domain.AverageRating(row.RatingSum, row.Total)
	stats.RatingDistribution[1] = row.R1
	stats.RatingDistribution[2] = row.R2
	stats.RatingDistribution[3] = row.R3
	stats.RatingDistribution[4] = row.R4
	stats.RatingDistribution[5] = row.R5
	return stats, nil
}

// ClearReviews removes every review. Used by the seed tool.
func ClearReviews(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.Review{})
	return res.RowsAffected, res.Error
}

// CountReviews returns the number of reviews in any state.
func CountReviews(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Review{}).Count(&total).Error
	return total, err
}

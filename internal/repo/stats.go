// Package repo implements the data persistence layer for reviews, backed by
// GORM. This file provides small aggregate queries used for conditional
// responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// ApprovedStats returns change-detection metadata for the public review list:
// the number of approved reviews and the greatest UpdatedAt among them.
//
// When there are no approved reviews, count is 0 and maxUpdatedAt is nil.
// Deletes change the count and approvals refresh updated_at, so either kind of
// change yields different values.
func ApprovedStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Review{}).Where("approved = ?", true)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

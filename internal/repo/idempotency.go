// Package repo implements the data persistence layer for reviews, backed by
// GORM. This file provides repository helpers for the Idempotency model used
// to implement safe-retry semantics for POST endpoints.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// GetIdempotency returns a non-expired record for (scope, key) whose
// fingerprint equals fingerprint, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("scope = ? AND key = ? AND fingerprint = ? AND expires_at > ?", scope, key, fingerprint, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records that (scope, key) produced resourceID with the
// given HTTP status for a request with fingerprint. It returns ErrDuplicate on
// unique violation, whatever the fingerprint. An expired record for the same
// pair is replaced.
func CreateIdempotency(ctx context.Context, db *gorm.DB, scope, key, fingerprint, resourceID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		Scope:       scope,
		Key:         key,
		Fingerprint: fingerprint,
		ResourceID:  resourceID,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ? AND key = ? AND expires_at <= ?", scope, key, now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

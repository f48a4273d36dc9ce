// Package services – IdempotencyService
//
// This file records which review an Idempotency-Key produced, bound to a
// fingerprint of the request, so retried submissions replay the same result.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/repo"
)

// DefaultIdempotencyTTL is used when IdempotencyService.TTL is unset.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyService records which resource a (scope, key) pair produced so
// retried POSTs with the same body can be answered with the original result.
type IdempotencyService struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Lookup returns the resource id recorded for (scope, key) by a request with
// the same fingerprint, if it has not expired at now. A missing or mismatched
// record is not an error.
func (s *IdempotencyService) Lookup(ctx context.Context, scope, key, fingerprint string, now time.Time) (string, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, scope, key, fingerprint, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.ResourceID, true, nil
}

// Record stores (scope, key) -> resourceID. A concurrent request that
// already recorded the same pair wins; that case is not an error.
func (s *IdempotencyService) Record(ctx context.Context, scope, key, fingerprint, resourceID string, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, scope, key, fingerprint, resourceID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Package services defines the business logic for customer reviews.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer. Input problems are reported as
// *domain.ValidationError rather than a sentinel so every violated field can
// be listed.
package services

import "errors"

// Review-related errors.
var (
	// ErrReviewNotFound indicates that the requested review does not exist or
	// is not visible to the caller (pending reviews are not public).
	ErrReviewNotFound = errors.New("review not found")

	// ErrDuplicateReview is returned when a review already exists for the
	// normalized email address.
	ErrDuplicateReview = errors.New("a review with this email already exists")

	// ErrStoreUnavailable is returned when the review store cannot be reached
	// or does not answer within the configured store timeout. It wraps the
	// underlying cause for logging.
	ErrStoreUnavailable = errors.New("review store unavailable")

	// ErrInvalidID is returned for a blank review id.
	ErrInvalidID = errors.New("review id is required")
)

// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients a stable, machine-readable error taxonomy that
// supplements human-readable messages. Codes are lowercase snake_case; every
// error response carries an HTTP status and one of them.
//
// Mapping from service errors (see failErr):
//
//	validation_failed  400  one or more fields violate the review rules
//	bad_request        400  malformed JSON, id or query
//	conflict           409  a review already exists for the email
//	not_found          404  review missing or not public
//	store_unavailable  503  review store timed out or is unreachable
//	internal_error     500  anything unexpected
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "a review with this email address already exists"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidation       = "validation_failed"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

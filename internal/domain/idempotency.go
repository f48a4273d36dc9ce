// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (scope, key). It enables safe retries for POST operations by
// returning the originally created resource without re-executing side effects.
//
// Scope names the operation (e.g. "reviews" for submissions) so that keys from
// different endpoints never collide. Fingerprint is a hash of the request body
// that produced the resource; a lookup only matches when it is equal, which
// binds the key to the caller that knows the original request.
type Idempotency struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	Scope       string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_scope_key,priority:1"`
	Key         string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_scope_key,priority:2"`
	Fingerprint string    `gorm:"type:varchar(64);not null;default:''"`
	ResourceID  string    `gorm:"type:varchar(36);not null"`
	Status      int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Package domain defines the persistence models for reviews and the field
// rules every stored review must satisfy. These types are mapped with GORM
// and form the core data layer of the reviews backend.
package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Field bounds for a Review.
const (
	NameMinLen    = 2
	NameMaxLen    = 50
	EmailMaxLen   = 100
	CommentMaxLen = 1000
	RatingMin     = 1
	RatingMax     = 5
)

// Review represents one customer testimonial.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), assigned on creation.
//   - Name: author display name (2–50 letters, spaces, hyphens, apostrophes).
//   - Email: normalized (trimmed, lowercased) address; unique across reviews.
//   - Rating: integer in [1,5] (enforced by DB constraint).
//   - Comment: optional free text, at most 1000 characters.
//   - Approved: public visibility flag; only approved reviews are readable.
//   - IPAddress / UserAgent: audit data captured at submission, never exposed.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//
// Reviews are hard-deleted; there is no DeletedAt column.
type Review struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(50);not null;index:idx_reviews_name"`
	Email     string    `json:"-"          gorm:"type:varchar(100);not null;uniqueIndex:ux_reviews_email"`
	Rating    int       `json:"rating"     gorm:"not null;index:idx_reviews_rating;check:rating BETWEEN 1 AND 5"`
	Comment   string    `json:"comment"    gorm:"type:text;not null;default:''"`
	Approved  bool      `json:"approved"   gorm:"not null;default:false;index:idx_reviews_approved_created,priority:1"`
	IPAddress string    `json:"-"          gorm:"type:varchar(64)"`
	UserAgent string    `json:"-"          gorm:"type:varchar(512)"`
	CreatedAt time.Time `json:"createdAt"  gorm:"index:idx_reviews_approved_created,priority:2"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the database table name for Review.
func (Review) TableName() string { return "reviews" }

// PublicReview is the read shape exposed to anonymous callers. Email and
// audit fields are not included.
type PublicReview struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Rating             int       `json:"rating"`
	Comment            string    `json:"comment"`
	CreatedAt          time.Time `json:"createdAt"`
	CreatedAtFormatted string    `json:"createdAtFormatted,omitempty"`
}

// DisplayDateLayout renders dates as "January 2, 2006".
const DisplayDateLayout = "January 2, 2006"

// Public converts r to its public read shape.
func (r *Review) Public() PublicReview {
	return PublicReview{
		ID:                 r.ID,
		Name:               r.Name,
		Rating:             r.Rating,
		Comment:            r.Comment,
		CreatedAt:          r.CreatedAt,
		CreatedAtFormatted: r.CreatedAt.UTC().Format(DisplayDateLayout),
	}
}

// ReviewStats summarizes approved reviews.
type ReviewStats struct {
	TotalReviews       int64         `json:"totalReviews"`
	AverageRating      float64       `json:"averageRating"`
	RatingDistribution map[int]int64 `json:"ratingDistribution"`
}

// EmptyStats returns the statistics for zero approved reviews.
func EmptyStats() ReviewStats {
	return ReviewStats{
		TotalReviews:       0,
		AverageRating:      0,
		RatingDistribution: map[int]int64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}
}

// NormalizeEmail trims and lowercases an address. The result is the
// uniqueness key for reviews.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
)

// ValidName reports whether name matches the allowed character set.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// Validate checks the schema invariants of a review about to be stored and
// returns a *ValidationError listing every violated field, or nil.
func (r *Review) Validate() error {
	var ve ValidationError

	switch n := utf8.RuneCountInString(r.Name); {
	case n == 0:
		ve.Add("name", "name is required")
	case n < NameMinLen:
		ve.Add("name", "name must be at least 2 characters")
	case n > NameMaxLen:
		ve.Add("name", "name cannot exceed 50 characters")
	case !ValidName(r.Name):
		ve.Add("name", "name can only contain letters, spaces, hyphens, and apostrophes")
	}

	switch {
	case r.Email == "":
		ve.Add("email", "email is required")
	case utf8.RuneCountInString(r.Email) > EmailMaxLen:
		ve.Add("email", "email cannot exceed 100 characters")
	case !emailPattern.MatchString(r.Email):
		ve.Add("email", "please provide a valid email address")
	}

	if r.Rating < RatingMin || r.Rating > RatingMax {
		ve.Add("rating", "rating must be an integer between 1 and 5")
	}
	if utf8.RuneCountInString(r.Comment) > CommentMaxLen {
		ve.Add("comment", "comment cannot exceed 1000 characters")
	}

	return ve.OrNil()
}

// AverageRating returns sum/count rounded half-up to one decimal place. It
// works on the integer sum so that e.g. 22/5 yields exactly 4.4.
func AverageRating(sum, count int64) float64 {
	if count <= 0 {
		return 0
	}
	tenths := (sum*20 + count) / (2 * count)
	return float64(tenths) / 10
}

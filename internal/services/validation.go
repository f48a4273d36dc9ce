// Package services – submission validation
//
// This file turns an untrusted SubmitInput into a normalized domain.Review or
// a ValidationError that lists every violated field.
package services

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// Audit field caps, matching the column sizes.
const (
	maxIPLen        = 64
	maxUserAgentLen = 512
)

var validate = validator.New()

// SubmitInput is an untrusted review submission. Rating is a float so that
// non-integer values can be reported as a validation failure instead of a
// decoding error.
type SubmitInput struct {
	Name      string
	Email     string
	Rating    float64
	Comment   string
	IPAddress string
	UserAgent string

	// TypeErrors holds fields the transport could not decode as the expected
	// JSON type. They are reported in place of the other checks for the
	// same field.
	TypeErrors []domain.FieldError
}

// fieldOrder is the order violations are reported in.
var fieldOrder = []string{"name", "email", "rating", "comment"}

// ValidateSubmission normalizes in and checks every field, returning a review
// ready to store or a *domain.ValidationError listing each violated field.
//
// Normalization: name and comment are trimmed and NFC-normalized; email is
// trimmed and lowercased.
func ValidateSubmission(in SubmitInput) (*domain.Review, error) {
	r := &domain.Review{
		Name:      norm.NFC.String(strings.TrimSpace(in.Name)),
		Email:     domain.NormalizeEmail(in.Email),
		Comment:   norm.NFC.String(strings.TrimSpace(in.Comment)),
		IPAddress: clip(strings.TrimSpace(in.IPAddress), maxIPLen),
		UserAgent: clip(strings.TrimSpace(in.UserAgent), maxUserAgentLen),
	}

	// A non-integer rating is left at zero so the range check reports it.
	if !math.IsNaN(in.Rating) && in.Rating == math.Trunc(in.Rating) &&
		in.Rating >= domain.RatingMin && in.Rating <= domain.RatingMax {
		r.Rating = int(in.Rating)
	}

	var checks []domain.FieldError
	var schemaErr *domain.ValidationError
	if err := r.Validate(); errors.As(err, &schemaErr) {
		checks = schemaErr.Fields
	}

	var ve domain.ValidationError
	for _, field := range fieldOrder {
		typed := false
		for _, fe := range in.TypeErrors {
			if fe.Field == field {
				ve.Fields = append(ve.Fields, fe)
				typed = true
			}
		}
		if typed {
			continue
		}
		for _, fe := range checks {
			if fe.Field == field {
				ve.Fields = append(ve.Fields, fe)
			}
		}
	}
	if !ve.Has("email") && validate.Var(r.Email, "email") != nil {
		ve.Add("email", "please provide a valid email address")
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

// clip truncates s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

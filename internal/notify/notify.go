// Package notify delivers best-effort notifications about new reviews.
//
// Notifiers are pluggable (log, SMTP, Kafka) and may be wrapped in a circuit
// breaker. The Dispatcher runs each delivery on its own goroutine with an
// independent timeout; delivery failures are logged and counted but never
// reach the caller that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-reviews-backend/internal/domain"
)

// EventReviewSubmitted is the event type for a newly stored review.
const EventReviewSubmitted = "review.submitted"

// Event describes a stored review. It never carries the author's email or
// audit fields.
type Event struct {
	Type      string    `json:"type"`
	ReviewID  string    `json:"reviewId"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSubmittedEvent builds the notification for a freshly stored review.
func NewSubmittedEvent(r *domain.Review) Event {
	return Event{
		Type:      EventReviewSubmitted,
		ReviewID:  r.ID,
		Name:      r.Name,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Approved:  r.Approved,
		CreatedAt: r.CreatedAt,
	}
}

// Notifier delivers a single event.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "review_notifications_total",
		Help: "Review notifications by notifier and result (sent|failed).",
	},
	[]string{"notifier", "result"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// LogNotifier writes events to a zerolog logger. It is the default driver
// and never fails.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Name implements Notifier.
func (LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	n.Logger.Info().
		Str("event", ev.Type).
		Str("review_id", ev.ReviewID).
		Str("author", ev.Name).
		Int("rating", ev.Rating).
		Bool("approved", ev.Approved).
		Msg("review notification")
	return nil
}

// Nop discards every event.
type Nop struct{}

// Name implements Notifier.
func (Nop) Name() string { return "none" }

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

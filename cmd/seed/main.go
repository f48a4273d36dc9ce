// Command seed migrates the review store and inserts the sample reviews shown
// on a fresh site. Existing reviews are left alone unless -reset is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/config"
	"github.com/tbourn/go-reviews-backend/internal/domain"
	"github.com/tbourn/go-reviews-backend/internal/repo"
	"github.com/tbourn/go-reviews-backend/internal/sysutil"
)

// sampleReviews are inserted approved.
var sampleReviews = []domain.Review{
	{
		Name:      "Sarah Johnson",
		Email:     "sarah.johnson@email.com",
		Rating:    5,
		Comment:   "Absolutely fantastic work! K.K.M.A. Homestyler transformed our living space beyond our expectations. Professional, timely, and creative.",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	},
	{
		Name:      "Michael Chen",
		Email:     "michael.chen@email.com",
		Rating:    5,
		Comment:   "Excellent design service and attention to detail. They understood our vision perfectly and delivered amazing results within budget.",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	},
	{
		Name:      "Emily Rodriguez",
		Email:     "emily.rodriguez@email.com",
		Rating:    5,
		Comment:   "Professional team with great design sense. Our home looks beautiful now. Highly recommend their services!",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0) AppleWebKit/605.1.15",
	},
	{
		Name:      "David Williams",
		Email:     "david.williams@email.com",
		Rating:    4,
		Comment:   "Great experience working with K.K.M.A. Homestyler. They delivered on time and the quality was excellent.",
		UserAgent: "Mozilla/5.0 (Android 11) AppleWebKit/537.36",
	},
	{
		Name:      "Lisa Thompson",
		Email:     "lisa.thompson@email.com",
		Rating:    5,
		Comment:   "Amazing transformation of our kitchen! The design ideas were innovative and practical. Would definitely recommend!",
		UserAgent: "Mozilla/5.0 (iPad) AppleWebKit/605.1.15",
	},
}

func main() {
	reset := flag.Bool("reset", false, "delete every review before seeding")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := sysutil.SetupLogger(sysutil.LoggerOptions{Level: cfg.LogLevel, Pretty: true, Service: "seed"})

	db, err := repo.Open(repo.Options{
		Driver:       cfg.DB.Driver,
		Path:         cfg.DB.Path,
		DSN:          cfg.DB.URL,
		MaxOpenConns: cfg.DB.MaxOpenConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer repo.Close(db)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := seed(ctx, db, *reset, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("seeding failed")
		cancel()
		_ = repo.Close(db)
		os.Exit(1)
	}
}

// seed migrates the schema, optionally clears reviews, inserts the samples
// into an empty table and writes a statistics summary to out.
func seed(ctx context.Context, db *gorm.DB, reset bool, out io.Writer, logger zerolog.Logger) error {
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if reset {
		n, err := repo.ClearReviews(ctx, db)
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		logger.Info().Int64("deleted", n).Msg("existing reviews cleared")
	}

	existing, err := repo.CountReviews(ctx, db)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	if existing > 0 {
		logger.Warn().Int64("existing", existing).Msg("reviews already present, skipping sample data")
	} else {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range sampleReviews {
				r := sampleReviews[i] // copy; CreateReview assigns id and timestamps
				r.Approved = true
				r.IPAddress = "127.0.0.1"
				if _, err := repo.CreateReview(ctx, tx, &r); err != nil {
					return fmt.Errorf("insert %s: %w", r.Name, err)
				}
				fmt.Fprintf(out, "  %d. %s - Rating: %d/5\n", i+1, r.Name, r.Rating)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Info().Int("inserted", len(sampleReviews)).Msg("sample reviews inserted")
	}

	stats, err := repo.ReviewStats(ctx, db)
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	fmt.Fprintf(out, "Total reviews:  %d\n", stats.TotalReviews)
	fmt.Fprintf(out, "Average rating: %.1f\n", stats.AverageRating)
	fmt.Fprint(out, "Distribution:  ")
	for star := domain.RatingMin; star <= domain.RatingMax; star++ {
		fmt.Fprintf(out, " %d★=%d", star, stats.RatingDistribution[star])
	}
	fmt.Fprintln(out)
	return nil
}

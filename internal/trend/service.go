package trend

import (
	"sort"
	"time"

	"github.com/instapulse/instapulse/internal/models"
)

// Config holds the trend detection thresholds. All three must hold for a
// post to be classified as trending.
type Config struct {
	GrowthThresholdPercent float64
	MaxPostAge             time.Duration
	MinSnapshots           int
}

// Result is the outcome of analyzing one post. It is computed per call and
// never persisted.
type Result struct {
	PostID          int64
	CurrentViews    int64
	ViewsPerHour    float64
	AvgViewsPerHour float64
	GrowthRate      float64
	IsTrending      bool
}

// Service computes view velocity and trending verdicts. It is a pure
// computation over the snapshot history and the account baseline.
type Service struct {
	config Config
}

// NewService creates a new trend service
func NewService(config Config) *Service {
	return &Service{config: config}
}

// Analyze computes the velocity, growth rate and trending verdict for one
// post given its snapshot history and the account's baseline velocity.
func (s *Service) Analyze(postID int64, publishedAt time.Time, snapshots []models.PostSnapshot, accountAvgSpeed float64) Result {
	if len(snapshots) == 0 {
		return Result{PostID: postID}
	}

	ordered := make([]models.PostSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CheckedAt.Before(ordered[j].CheckedAt)
	})

	current := ordered[len(ordered)-1]
	postAgeHours := hoursBetween(publishedAt, current.CheckedAt)

	viewsPerHour := s.currentSpeed(ordered, postAgeHours)

	if accountAvgSpeed < 0 {
		accountAvgSpeed = 0
	}

	growthRate := s.growth(viewsPerHour, accountAvgSpeed)

	return Result{
		PostID:          postID,
		CurrentViews:    current.Views,
		ViewsPerHour:    viewsPerHour,
		AvgViewsPerHour: accountAvgSpeed,
		GrowthRate:      growthRate,
		IsTrending:      s.isTrending(growthRate, postAgeHours, len(ordered)),
	}
}

// currentSpeed derives views-per-hour from the two most recent snapshots.
// A negative views delta (provider correction) falls through to the
// publish-time estimate so the velocity is never negative.
func (s *Service) currentSpeed(snapshots []models.PostSnapshot, postAgeHours float64) float64 {
	if len(snapshots) >= 2 {
		prev := snapshots[len(snapshots)-2]
		curr := snapshots[len(snapshots)-1]

		deltaViews := curr.Views - prev.Views
		deltaHours := hoursBetween(prev.CheckedAt, curr.CheckedAt)

		if deltaHours > 0 && deltaViews >= 0 {
			return float64(deltaViews) / deltaHours
		}
	}

	if postAgeHours > 0 {
		return float64(snapshots[len(snapshots)-1].Views) / postAgeHours
	}

	return 0
}

// growth returns the percentage growth of the current velocity over the
// account baseline. An unknown baseline yields 0, never a division by zero.
func (s *Service) growth(current, avg float64) float64 {
	if avg <= 0 {
		return 0
	}
	return (current - avg) / avg * 100
}

func (s *Service) isTrending(growthRate, postAgeHours float64, snapshotCount int) bool {
	return growthRate >= s.config.GrowthThresholdPercent &&
		postAgeHours <= s.config.MaxPostAge.Hours() &&
		snapshotCount >= s.config.MinSnapshots
}

func hoursBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours()
}

package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/fetchers"
	"github.com/instapulse/instapulse/internal/models"
	"github.com/instapulse/instapulse/internal/storage"
	"github.com/instapulse/instapulse/internal/trend"
)

// Store is the persistence boundary the monitoring pass depends on.
type Store interface {
	AccountsWithSubscribers(ctx context.Context) ([]*models.Account, error)
	GetOrCreatePost(ctx context.Context, accountID int64, fetched models.FetchedPost) (*models.Post, error)
	CreateSnapshot(ctx context.Context, postID, views, likes int64) error
	SnapshotsByPost(ctx context.Context, postID int64) ([]models.PostSnapshot, error)
	SubscribersByAccount(ctx context.Context, accountID int64) ([]string, error)
	AlertExists(ctx context.Context, userID string, postID int64) (bool, error)
	CreateAlert(ctx context.Context, alert *models.Alert) error
	UpdateAccountStats(ctx context.Context, account *models.Account) error
}

// Metrics holds monitoring metrics
type Metrics struct {
	AccountsProcessed int       `json:"accounts_processed"`
	PostsProcessed    int       `json:"posts_processed"`
	TrendingDetected  int       `json:"trending_detected"`
	AlertsCreated     int       `json:"alerts_created"`
	LastRun           time.Time `json:"last_run"`
	LastRunDuration   string    `json:"last_run_duration"`
	ErrorCount        int       `json:"error_count"`
}

// Service drives one monitoring pass: fetch recent posts for every account
// with subscribers, persist snapshots, analyze trends, emit alerts and
// commit the per-category baselines.
type Service struct {
	store   Store
	fetcher fetchers.Fetcher
	trends  *trend.Service
	archive storage.Archive

	metrics Metrics
	mu      sync.RWMutex
}

// NewService creates a new monitoring service. The archive may be nil when
// raw payload archiving is not configured.
func NewService(store Store, fetcher fetchers.Fetcher, trends *trend.Service, archive storage.Archive) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		trends:  trends,
		archive: archive,
	}
}

// RunMonitoring performs one full monitoring pass.
func (s *Service) RunMonitoring(ctx context.Context) error {
	start := time.Now()
	logrus.Infof("Starting monitoring pass (provider: %s)", s.fetcher.Name())

	accounts, err := s.store.AccountsWithSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	if len(accounts) == 0 {
		logrus.Info("No accounts with subscribers, nothing to monitor")
		return nil
	}

	pass := &passStats{}

	err = s.fetcher.ProcessAccounts(ctx, accounts, func(ctx context.Context, account *models.Account, posts []models.FetchedPost) error {
		return s.processAccount(ctx, account, posts, pass)
	})
	if err != nil {
		pass.addError()
		s.updateMetrics(pass, time.Since(start))
		return fmt.Errorf("fetch pass failed: %w", err)
	}

	s.updateMetrics(pass, time.Since(start))
	logrus.Infof("Monitoring pass completed in %v: %d accounts, %d posts, %d trending, %d alerts",
		time.Since(start), pass.accounts, pass.posts, pass.trending, pass.alerts)
	return nil
}

// processAccount handles one account's fetched posts: idempotent post
// creation, snapshot append, trend analysis against the pre-pass baseline,
// alert fan-out and finally the baseline commit.
func (s *Service) processAccount(ctx context.Context, account *models.Account, posts []models.FetchedPost, pass *passStats) error {
	logrus.Infof("Processing %d posts for @%s", len(posts), account.Username)

	s.archivePosts(ctx, account.Username, posts)

	var reelSpeeds, postSpeeds []float64

	for _, fetched := range posts {
		post, err := s.store.GetOrCreatePost(ctx, account.ID, fetched)
		if err != nil {
			return fmt.Errorf("failed to get or create post %s: %w", fetched.Code, err)
		}

		if err := s.store.CreateSnapshot(ctx, post.ID, fetched.Views, fetched.Likes); err != nil {
			return fmt.Errorf("failed to create snapshot for post %s: %w", fetched.Code, err)
		}

		snapshots, err := s.store.SnapshotsByPost(ctx, post.ID)
		if err != nil {
			return fmt.Errorf("failed to load snapshots for post %s: %w", fetched.Code, err)
		}

		// The baseline read here is the pre-pass value: account stats
		// are only committed after the whole batch is processed.
		result := s.trends.Analyze(post.ID, post.PublishedAt, snapshots, account.BaselineFor(fetched.Type))

		if fetched.Type == models.ContentTypeReel {
			reelSpeeds = append(reelSpeeds, result.ViewsPerHour)
		} else {
			postSpeeds = append(postSpeeds, result.ViewsPerHour)
		}

		pass.addPost()

		if result.IsTrending {
			pass.addTrending()
			created, err := s.createAlerts(ctx, account.ID, result)
			if err != nil {
				return err
			}
			pass.addAlerts(created)
			logrus.Infof("@%s: post %s trending (%.0f views/h, +%.0f%%), %d alerts created",
				account.Username, fetched.Code, result.ViewsPerHour, result.GrowthRate, created)
		}
	}

	account.SetBaseline(models.ContentTypeReel, trend.AccountAverageSpeed(reelSpeeds))
	account.SetBaseline(models.ContentTypePost, trend.AccountAverageSpeed(postSpeeds))
	now := time.Now().UTC()
	account.LastChecked = &now

	if err := s.store.UpdateAccountStats(ctx, account); err != nil {
		return fmt.Errorf("failed to update stats for @%s: %w", account.Username, err)
	}

	pass.addAccount()
	return nil
}

// createAlerts emits one alert per subscriber of the account. A pair that
// already has an alert is left untouched.
func (s *Service) createAlerts(ctx context.Context, accountID int64, result trend.Result) (int, error) {
	subscribers, err := s.store.SubscribersByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscribers: %w", err)
	}

	created := 0
	for _, userID := range subscribers {
		exists, err := s.store.AlertExists(ctx, userID, result.PostID)
		if err != nil {
			return created, fmt.Errorf("failed to check alert: %w", err)
		}
		if exists {
			continue
		}

		alert := &models.Alert{
			UserID:          userID,
			PostID:          result.PostID,
			DetectedAt:      time.Now().UTC(),
			Views:           result.CurrentViews,
			ViewsPerHour:    result.ViewsPerHour,
			AvgViewsPerHour: result.AvgViewsPerHour,
			GrowthRate:      result.GrowthRate,
		}
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			return created, fmt.Errorf("failed to create alert: %w", err)
		}
		created++
	}

	return created, nil
}

func (s *Service) archivePosts(ctx context.Context, username string, posts []models.FetchedPost) {
	if s.archive == nil || len(posts) == 0 {
		return
	}

	data, err := json.Marshal(posts)
	if err != nil {
		logrus.Errorf("Failed to marshal archive batch for @%s: %v", username, err)
		return
	}

	name := fmt.Sprintf("%s/%s.json", username, time.Now().UTC().Format("2006-01-02-15-04-05"))
	if err := s.archive.Store(ctx, name, data); err != nil {
		logrus.Errorf("Failed to archive batch for @%s: %v", username, err)
	}
}

func (s *Service) updateMetrics(pass *passStats, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = Metrics{
		AccountsProcessed: pass.accounts,
		PostsProcessed:    pass.posts,
		TrendingDetected:  pass.trending,
		AlertsCreated:     pass.alerts,
		LastRun:           time.Now().UTC(),
		LastRunDuration:   duration.String(),
		ErrorCount:        pass.errors,
	}
}

// Snapshot returns a copy of the last pass's metrics.
func (s *Service) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// GetMetrics returns the last pass's metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}

// passStats accumulates counters for one pass. Callbacks may run
// concurrently depending on the fetcher.
type passStats struct {
	mu       sync.Mutex
	accounts int
	posts    int
	trending int
	alerts   int
	errors   int
}

func (p *passStats) addAccount()     { p.mu.Lock(); p.accounts++; p.mu.Unlock() }
func (p *passStats) addPost()        { p.mu.Lock(); p.posts++; p.mu.Unlock() }
func (p *passStats) addTrending()    { p.mu.Lock(); p.trending++; p.mu.Unlock() }
func (p *passStats) addAlerts(n int) { p.mu.Lock(); p.alerts += n; p.mu.Unlock() }
func (p *passStats) addError()       { p.mu.Lock(); p.errors++; p.mu.Unlock() }

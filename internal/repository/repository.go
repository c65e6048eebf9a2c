package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/instapulse/instapulse/internal/models"
)

// Repository provides database access for the monitoring pipeline and the
// alert delivery path.
type Repository struct {
	db *gorm.DB
}

// New creates a new repository
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AccountsWithSubscribers returns every tracked account that at least one
// user is subscribed to.
func (r *Repository) AccountsWithSubscribers(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Distinct("accounts.*").
		Joins("JOIN user_competitors ON user_competitors.account_id = accounts.id").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetOrCreatePost returns the post with the given provider code, creating it
// on first observation. A second observation of the same code never creates
// a duplicate.
func (r *Repository) GetOrCreatePost(ctx context.Context, accountID int64, fetched models.FetchedPost) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).Where("code = ?", fetched.Code).First(&post).Error
	if err == nil {
		return &post, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	post = models.Post{
		AccountID:   accountID,
		Code:        fetched.Code,
		Type:        fetched.Type,
		URL:         fetched.URL,
		PublishedAt: fetched.PublishedAt,
	}
	if err := r.db.WithContext(ctx).Create(&post).Error; err != nil {
		// Lost a race against a concurrent insert; the unique index on code
		// guarantees the row exists now.
		var existing models.Post
		if ferr := r.db.WithContext(ctx).Where("code = ?", fetched.Code).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &post, nil
}

// CreateSnapshot appends one views/likes observation for a post.
func (r *Repository) CreateSnapshot(ctx context.Context, postID, views, likes int64) error {
	snapshot := models.PostSnapshot{
		PostID:    postID,
		Views:     views,
		Likes:     likes,
		CheckedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&snapshot).Error
}

// SnapshotsByPost returns all snapshots for a post in observation-time order.
func (r *Repository) SnapshotsByPost(ctx context.Context, postID int64) ([]models.PostSnapshot, error) {
	var snapshots []models.PostSnapshot
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("checked_at").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// SubscribersByAccount returns the ids of all users subscribed to an account.
func (r *Repository) SubscribersByAccount(ctx context.Context, accountID int64) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.UserCompetitor{}).
		Where("account_id = ?", accountID).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// AlertExists reports whether an alert exists for the (user, post) pair.
func (r *Repository) AlertExists(ctx context.Context, userID string, postID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAlert records a trending detection. The unique (user, post) index
// makes the insert a no-op if the pair already has an alert.
func (r *Repository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(alert).Error
}

// UpdateAccountStats persists the recomputed per-category baselines and the
// last-checked timestamp.
func (r *Repository) UpdateAccountStats(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

type pendingAlertRow struct {
	ID              int64
	UserID          string
	PostID          int64
	DetectedAt      time.Time
	Views           int64
	ViewsPerHour    float64
	AvgViewsPerHour float64
	GrowthRate      float64
	PostURL         string
	PublishedAt     time.Time
	Username        string
	FolderName      *string
	ChatID          *string
}

// PendingAlerts returns all undelivered alerts joined with the post, account
// and folder context needed to render a notification.
func (r *Repository) PendingAlerts(ctx context.Context) ([]models.PendingAlert, error) {
	var rows []pendingAlertRow
	err := r.db.WithContext(ctx).
		Table("alerts").
		Select(`alerts.id, alerts.user_id, alerts.post_id, alerts.detected_at,
			alerts.views, alerts.views_per_hour, alerts.avg_views_per_hour, alerts.growth_rate,
			posts.url AS post_url, posts.published_at,
			accounts.username,
			folders.name AS folder_name,
			users.telegram_chat_id AS chat_id`).
		Joins("JOIN posts ON posts.id = alerts.post_id").
		Joins("JOIN accounts ON accounts.id = posts.account_id").
		Joins("JOIN user_competitors ON user_competitors.account_id = accounts.id AND user_competitors.user_id = alerts.user_id").
		Joins("LEFT JOIN folders ON folders.id = user_competitors.folder_id").
		Joins("JOIN users ON users.id = alerts.user_id").
		Where("alerts.sent_to_telegram = ?", false).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	pending := make([]models.PendingAlert, 0, len(rows))
	for _, row := range rows {
		p := models.PendingAlert{
			Alert: models.Alert{
				ID:              row.ID,
				UserID:          row.UserID,
				PostID:          row.PostID,
				DetectedAt:      row.DetectedAt,
				Views:           row.Views,
				ViewsPerHour:    row.ViewsPerHour,
				AvgViewsPerHour: row.AvgViewsPerHour,
				GrowthRate:      row.GrowthRate,
			},
			PostURL:     row.PostURL,
			Username:    row.Username,
			PublishedAt: row.PublishedAt,
		}
		if row.FolderName != nil {
			p.FolderName = *row.FolderName
		}
		if row.ChatID != nil {
			p.ChatID = *row.ChatID
		}
		pending = append(pending, p)
	}
	return pending, nil
}

// MarkAlertSent flips the delivered flag for an alert. The flag only ever
// transitions false to true.
func (r *Repository) MarkAlertSent(ctx context.Context, alertID int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Alert{}).
		Where("id = ?", alertID).
		Update("sent_to_telegram", true).Error
}

package models

import "time"

// ContentType distinguishes the two monitored content categories.
type ContentType string

const (
	ContentTypeReel ContentType = "reel"
	ContentTypePost ContentType = "post"
)

// FetchedPost is one content item as returned by a provider fetcher,
// before it is persisted.
type FetchedPost struct {
	Code        string      `json:"code"`
	URL         string      `json:"url"`
	Views       int64       `json:"views"`
	Likes       int64       `json:"likes"`
	PublishedAt time.Time   `json:"published_at"`
	Type        ContentType `json:"type"`
}

// User is a subscriber receiving trend alerts.
type User struct {
	ID             string  `gorm:"primaryKey"`
	TelegramChatID *string `gorm:"uniqueIndex"`
	CreatedAt      time.Time
	LastActive     *time.Time
}

// Folder groups a user's tracked accounts.
type Folder struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_folders_user_name;not null"`
	Name      string `gorm:"uniqueIndex:idx_folders_user_name;not null"`
	Color     string `gorm:"default:#0088cc"`
	SortOrder int    `gorm:"default:0"`
	CreatedAt time.Time
}

// Account is a tracked Instagram profile. The rolling per-category view
// velocities are recomputed at the end of every monitoring pass.
type Account struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement"`
	Username             string `gorm:"uniqueIndex;not null"`
	CreatedAt            time.Time
	LastChecked          *time.Time
	AvgReelsViewsPerHour float64 `gorm:"default:0"`
	AvgPostsViewsPerHour float64 `gorm:"default:0"`
}

// BaselineFor returns the account's expected views-per-hour for a category.
func (a *Account) BaselineFor(t ContentType) float64 {
	if t == ContentTypeReel {
		return a.AvgReelsViewsPerHour
	}
	return a.AvgPostsViewsPerHour
}

// SetBaseline stores the freshly computed views-per-hour for a category.
func (a *Account) SetBaseline(t ContentType, avg float64) {
	if t == ContentTypeReel {
		a.AvgReelsViewsPerHour = avg
	} else {
		a.AvgPostsViewsPerHour = avg
	}
}

// UserCompetitor subscribes a user to an account's trend alerts.
type UserCompetitor struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"uniqueIndex:idx_user_competitors_pair;not null"`
	AccountID int64  `gorm:"uniqueIndex:idx_user_competitors_pair;not null"`
	FolderID  *int64
	AddedAt   time.Time `gorm:"autoCreateTime"`
}

// Post is one published content item. The provider-issued code is globally
// unique; a post is created exactly once, on first observation.
type Post struct {
	ID          int64       `gorm:"primaryKey;autoIncrement"`
	AccountID   int64       `gorm:"index;not null"`
	Code        string      `gorm:"uniqueIndex;not null"`
	Type        ContentType `gorm:"not null"`
	URL         string
	PublishedAt time.Time `gorm:"index"`
}

// PostSnapshot is one observed views/likes measurement. Snapshots are
// append-only and never mutated.
type PostSnapshot struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	PostID    int64 `gorm:"index;not null"`
	Views     int64 `gorm:"not null"`
	Likes     int64 `gorm:"not null"`
	CheckedAt time.Time `gorm:"index"`
}

// Alert records a trending detection for one (user, post) pair. At most one
// alert ever exists per pair; metrics are frozen at detection time.
type Alert struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	UserID          string `gorm:"uniqueIndex:idx_alerts_user_post;not null"`
	PostID          int64  `gorm:"uniqueIndex:idx_alerts_user_post;not null"`
	DetectedAt      time.Time
	Views           int64
	ViewsPerHour    float64
	AvgViewsPerHour float64
	GrowthRate      float64
	SentToTelegram  bool `gorm:"default:false"`
}

// PendingAlert is the delivery view of an undelivered alert, joined with the
// post, account and folder context needed to render a message.
type PendingAlert struct {
	Alert       Alert
	PostURL     string
	Username    string
	FolderName  string
	PublishedAt time.Time
	ChatID      string
}

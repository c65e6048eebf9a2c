package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/models"
)

const apifyBaseURL = "https://api.apify.com/v2"

// Run states reported by the actor API.
const (
	apifyStatusSucceeded = "SUCCEEDED"
	apifyStatusFailed    = "FAILED"
	apifyStatusAborted   = "ABORTED"
	apifyStatusTimedOut  = "TIMED-OUT"
)

// ApifyFetcher pulls posts through Apify actor runs: submit an extraction
// job per account and category, poll until it finishes, then download the
// resulting dataset once.
type ApifyFetcher struct {
	client       *resty.Client
	token        string
	actorID      string
	resultsLimit int
	lookback     time.Duration

	pollInterval      time.Duration
	maxWait           time.Duration
	submitAttempts    int
	rateLimitCooldown time.Duration
}

type apifyRunResponse struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type apifyItem struct {
	ShortCode      string      `json:"shortCode"`
	URL            string      `json:"url"`
	VideoViewCount int64       `json:"videoViewCount"`
	LikesCount     int64       `json:"likesCount"`
	Timestamp      interface{} `json:"timestamp"`
}

// NewApifyFetcher creates a new Apify fetcher
func NewApifyFetcher(token, actorID string, resultsLimit int, lookback time.Duration) *ApifyFetcher {
	return &ApifyFetcher{
		client:            resty.New().SetBaseURL(apifyBaseURL).SetTimeout(30 * time.Second),
		token:             token,
		actorID:           actorID,
		resultsLimit:      resultsLimit,
		lookback:          lookback,
		pollInterval:      5 * time.Second,
		maxWait:           10 * time.Minute,
		submitAttempts:    3,
		rateLimitCooldown: 70 * time.Second,
	}
}

func (a *ApifyFetcher) Name() string {
	return "apify"
}

// ProcessAccounts fetches each account in turn. A failed account is logged
// and skipped; the rest keep going.
func (a *ApifyFetcher) ProcessAccounts(ctx context.Context, accounts []*models.Account, onAccountReady Callback) error {
	for _, account := range accounts {
		posts, err := a.fetchAccount(ctx, account.Username)
		if err != nil {
			logrus.Errorf("apify: failed to fetch @%s: %v", account.Username, err)
			continue
		}

		if err := onAccountReady(ctx, account, posts); err != nil {
			logrus.Errorf("apify: failed to process posts for @%s: %v", account.Username, err)
		}
	}
	return nil
}

func (a *ApifyFetcher) fetchAccount(ctx context.Context, username string) ([]models.FetchedPost, error) {
	reels, err := a.fetchByType(ctx, username, "reels")
	if err != nil {
		return nil, err
	}

	posts, err := a.fetchByType(ctx, username, "posts")
	if err != nil {
		return nil, err
	}

	return append(reels, posts...), nil
}

func (a *ApifyFetcher) fetchByType(ctx context.Context, username, resultsType string) ([]models.FetchedPost, error) {
	runID, err := a.startRun(ctx, username, resultsType)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	logrus.Debugf("apify: started run %s for @%s (%s)", runID, username, resultsType)

	datasetID, err := a.waitForFinish(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	items, err := a.datasetItems(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset %s: %w", datasetID, err)
	}
	logrus.Debugf("apify: got %d items for @%s (%s)", len(items), username, resultsType)

	return a.mapItems(items, resultsType), nil
}

// startRun submits one extraction job. A rate-limited submission is retried
// after a fixed cooldown, up to the configured attempt count.
func (a *ApifyFetcher) startRun(ctx context.Context, username, resultsType string) (string, error) {
	onlyNewerThan := time.Now().UTC().Add(-a.lookback).Format("2006-01-02T15:04:05") + "Z"

	payload := map[string]interface{}{
		"username":           username,
		"resultsType":        resultsType,
		"resultsLimit":       a.resultsLimit,
		"onlyPostsNewerThan": onlyNewerThan,
	}

	for attempt := 1; ; attempt++ {
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("token", a.token).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(fmt.Sprintf("/acts/%s/runs", a.actorID))
		if err != nil {
			return "", err
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			if attempt >= a.submitAttempts {
				return "", fmt.Errorf("rate limited after %d attempts", attempt)
			}
			logrus.Warnf("apify: rate limited submitting run for @%s, retrying in %s", username, a.rateLimitCooldown)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(a.rateLimitCooldown):
			}
			continue
		}

		if resp.StatusCode() >= 300 {
			return "", fmt.Errorf("apify API returned status %d", resp.StatusCode())
		}

		var run apifyRunResponse
		if err := json.Unmarshal(resp.Body(), &run); err != nil {
			return "", err
		}
		if run.Data.ID == "" {
			return "", fmt.Errorf("apify run response missing id")
		}
		return run.Data.ID, nil
	}
}

// waitForFinish polls the run until it reaches a terminal state, bounded by
// the maximum wait.
func (a *ApifyFetcher) waitForFinish(ctx context.Context, runID string) (string, error) {
	deadline := time.Now().Add(a.maxWait)

	for {
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("token", a.token).
			Get(fmt.Sprintf("/actor-runs/%s", runID))
		if err != nil {
			return "", err
		}
		if resp.StatusCode() != http.StatusOK {
			return "", fmt.Errorf("apify API returned status %d", resp.StatusCode())
		}

		var run apifyRunResponse
		if err := json.Unmarshal(resp.Body(), &run); err != nil {
			return "", err
		}

		switch run.Data.Status {
		case apifyStatusSucceeded:
			return run.Data.DefaultDatasetID, nil
		case apifyStatusFailed, apifyStatusAborted, apifyStatusTimedOut:
			return "", fmt.Errorf("run finished with status %s", run.Data.Status)
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("run did not finish within %s", a.maxWait)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *ApifyFetcher) datasetItems(ctx context.Context, datasetID string) ([]apifyItem, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("token", a.token).
		Get(fmt.Sprintf("/datasets/%s/items", datasetID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("apify API returned status %d", resp.StatusCode())
	}

	var items []apifyItem
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// mapItems converts dataset items into fetched posts. Items without a code
// are dropped; the view count prefers the play-count field and falls back to
// an estimate from likes.
func (a *ApifyFetcher) mapItems(items []apifyItem, resultsType string) []models.FetchedPost {
	contentType := models.ContentTypePost
	if resultsType == "reels" {
		contentType = models.ContentTypeReel
	}

	var posts []models.FetchedPost
	for _, item := range items {
		if item.ShortCode == "" {
			logrus.Debug("apify: dropping item without shortCode")
			continue
		}

		views := item.VideoViewCount
		if views == 0 {
			views = item.LikesCount * likeViewMultiplier
		}

		posts = append(posts, models.FetchedPost{
			Code:        item.ShortCode,
			URL:         item.URL,
			Views:       views,
			Likes:       item.LikesCount,
			PublishedAt: asTime(item.Timestamp),
			Type:        contentType,
		})
	}
	return posts
}

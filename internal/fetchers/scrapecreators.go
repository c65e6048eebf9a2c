package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/models"
)

const (
	scrapeCreatorsBaseURL = "https://api.scrapecreators.com"
	scReelsEndpoint       = "/v1/instagram/user/reels"
)

// ScrapeCreatorsFetcher pulls reels through a synchronous, cursor-paginated
// API. Accounts are fetched concurrently under a connection ceiling; each
// account's pagination stops at the first item older than the max-age cutoff.
type ScrapeCreatorsFetcher struct {
	client    *resty.Client
	maxAge    time.Duration
	pageDelay time.Duration
	connLimit int
}

type scReelsPage struct {
	Items         []json.RawMessage `json:"items"`
	MoreAvailable bool              `json:"more_available"`
	NextMaxID     string            `json:"next_max_id"`
}

type scMedia struct {
	Code        string      `json:"code"`
	Shortcode   string      `json:"shortcode"`
	TakenAt     interface{} `json:"taken_at"`
	PlayCount   int64       `json:"play_count"`
	IgPlayCount int64       `json:"ig_play_count"`
	LikeCount   int64       `json:"like_count"`
	MediaType   int         `json:"media_type"`
	ProductType string      `json:"product_type"`
}

// NewScrapeCreatorsFetcher creates a new ScrapeCreators fetcher
func NewScrapeCreatorsFetcher(apiKey string, maxAge time.Duration) *ScrapeCreatorsFetcher {
	return &ScrapeCreatorsFetcher{
		client: resty.New().
			SetBaseURL(scrapeCreatorsBaseURL).
			SetTimeout(30 * time.Second).
			SetHeader("x-api-key", apiKey).
			SetHeader("Content-Type", "application/json"),
		maxAge:    maxAge,
		pageDelay: 300 * time.Millisecond,
		connLimit: 20,
	}
}

func (f *ScrapeCreatorsFetcher) Name() string {
	return "scrapecreators"
}

// ProcessAccounts fans out over accounts concurrently, bounded by the
// connection ceiling. The callback fires per account as soon as its pages
// are collected; one account's failure never affects the others.
func (f *ScrapeCreatorsFetcher) ProcessAccounts(ctx context.Context, accounts []*models.Account, onAccountReady Callback) error {
	if len(accounts) == 0 {
		return nil
	}

	sem := make(chan struct{}, f.connLimit)
	var wg sync.WaitGroup

	for _, account := range accounts {
		wg.Add(1)
		go func(acc *models.Account) {
			defer wg.Done()

			sem <- struct{}{}
			posts, err := f.fetchAccount(ctx, acc.Username)
			<-sem

			if err != nil {
				logrus.Errorf("scrapecreators: failed to fetch @%s: %v", acc.Username, err)
				return
			}

			if err := onAccountReady(ctx, acc, posts); err != nil {
				logrus.Errorf("scrapecreators: failed to process posts for @%s: %v", acc.Username, err)
			}
		}(account)
	}

	wg.Wait()
	return nil
}

// fetchAccount walks the cursor pagination for one handle. Pages are sorted
// newest-first, so the first item older than the cutoff ends the walk and is
// itself excluded. A not-found profile yields zero items, not an error.
func (f *ScrapeCreatorsFetcher) fetchAccount(ctx context.Context, username string) ([]models.FetchedPost, error) {
	cutoff := time.Now().UTC().Add(-f.maxAge)

	var posts []models.FetchedPost
	maxID := ""

	for page := 1; ; page++ {
		req := f.client.R().
			SetContext(ctx).
			SetQueryParam("handle", username)
		if maxID != "" {
			req.SetQueryParam("max_id", maxID)
		}

		resp, err := req.Get(scReelsEndpoint)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusNotFound {
			logrus.Warnf("scrapecreators: profile @%s not found", username)
			return posts, nil
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("scrapecreators API returned status %d", resp.StatusCode())
		}

		var pageData scReelsPage
		if err := json.Unmarshal(resp.Body(), &pageData); err != nil {
			return nil, err
		}

		stop := false
		for _, raw := range pageData.Items {
			post, ok := scItemToPost(raw)
			if !ok {
				continue
			}
			if post.PublishedAt.Before(cutoff) {
				stop = true
				break
			}
			posts = append(posts, post)
		}

		logrus.Debugf("scrapecreators: @%s page %d, %d posts accepted so far", username, page, len(posts))

		if stop || !pageData.MoreAvailable || pageData.NextMaxID == "" {
			break
		}
		maxID = pageData.NextMaxID

		if f.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.pageDelay):
			}
		}
	}

	return posts, nil
}

// scItemToPost maps one raw item, which nests the media object under a
// "media" key or inlines it at the top level.
func scItemToPost(raw json.RawMessage) (models.FetchedPost, bool) {
	var wrapper struct {
		Media *scMedia `json:"media"`
	}
	media := &scMedia{}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Media != nil {
		media = wrapper.Media
	} else if err := json.Unmarshal(raw, media); err != nil {
		return models.FetchedPost{}, false
	}

	code := media.Code
	if code == "" {
		code = media.Shortcode
	}
	if code == "" {
		return models.FetchedPost{}, false
	}

	views := media.IgPlayCount
	if views == 0 {
		views = media.PlayCount
	}

	contentType := models.ContentTypePost
	if media.MediaType == 2 || media.ProductType == "clips" {
		contentType = models.ContentTypeReel
	}

	return models.FetchedPost{
		Code:        code,
		URL:         "https://www.instagram.com/reel/" + code + "/",
		Views:       views,
		Likes:       media.LikeCount,
		PublishedAt: asTime(media.TakenAt),
		Type:        contentType,
	}, true
}

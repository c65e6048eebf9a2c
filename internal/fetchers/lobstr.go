package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/models"
)

const lobstrBaseURL = "https://api.lobstr.io/v1"

// lobstrClient is a thin wrapper over the Lobstr REST API.
type lobstrClient struct {
	client            *resty.Client
	submitAttempts    int
	rateLimitCooldown time.Duration
}

func newLobstrClient(apiKey string) *lobstrClient {
	return &lobstrClient{
		client: resty.New().
			SetBaseURL(lobstrBaseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Authorization", "Token "+apiKey).
			SetHeader("Content-Type", "application/json"),
		submitAttempts:    3,
		rateLimitCooldown: 70 * time.Second,
	}
}

// do issues one request, retrying a bounded number of times after a fixed
// cooldown when the API rate-limits.
func (c *lobstrClient) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (*resty.Response, error) {
	for attempt := 1; ; attempt++ {
		req := c.client.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParams(query)
		}
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode() == http.StatusTooManyRequests && attempt < c.submitAttempts {
			logrus.Warnf("lobstr: rate limited on %s %s, retrying in %s", method, path, c.rateLimitCooldown)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.rateLimitCooldown):
			}
			continue
		}

		return resp, nil
	}
}

type lobstrEnvelope struct {
	Data json.RawMessage `json:"data"`
	Next *string         `json:"next"`
}

// decodeList handles both response shapes the API uses: a bare JSON list and
// a {"data": [...], "next": ...} envelope.
func decodeList(body []byte) ([]map[string]interface{}, bool, error) {
	var envelope lobstrEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		var items []map[string]interface{}
		if err := json.Unmarshal(envelope.Data, &items); err == nil {
			return items, envelope.Next != nil && *envelope.Next != "", nil
		}
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(body, &items); err == nil {
		return items, false, nil
	}

	return nil, false, fmt.Errorf("unexpected list payload")
}

func (c *lobstrClient) listPages(ctx context.Context, path string, query map[string]string, maxPages int) ([]map[string]interface{}, error) {
	var all []map[string]interface{}

	for page := 1; page <= maxPages; page++ {
		q := map[string]string{}
		for k, v := range query {
			q[k] = v
		}
		if page > 1 {
			q["page"] = fmt.Sprintf("%d", page)
		}

		resp, err := c.do(ctx, resty.MethodGet, path, q, nil)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("lobstr API returned status %d for %s", resp.StatusCode(), path)
		}

		items, hasNext, err := decodeList(resp.Body())
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if len(items) == 0 || !hasNext {
			break
		}
	}

	return all, nil
}

func (c *lobstrClient) listSquids(ctx context.Context) ([]map[string]interface{}, error) {
	return c.listPages(ctx, "/squids", nil, 10)
}

// verifySquid reports whether the squid still exists remotely.
func (c *lobstrClient) verifySquid(ctx context.Context, squidID string) (bool, error) {
	resp, err := c.do(ctx, resty.MethodGet, "/squids/"+squidID, nil, nil)
	if err != nil {
		return false, err
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("lobstr API returned status %d", resp.StatusCode())
	}
}

func (c *lobstrClient) listTasks(ctx context.Context, squidID string) ([]map[string]interface{}, error) {
	return c.listPages(ctx, "/tasks", map[string]string{"squid": squidID, "type": "params"}, 50)
}

func (c *lobstrClient) addTasks(ctx context.Context, squidID string, profileURLs []string) error {
	tasks := make([]map[string]string, 0, len(profileURLs))
	for _, u := range profileURLs {
		tasks = append(tasks, map[string]string{"url": u})
	}

	resp, err := c.do(ctx, resty.MethodPost, "/tasks", nil, map[string]interface{}{
		"tasks": tasks,
		"squid": squidID,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("lobstr API returned status %d adding tasks", resp.StatusCode())
	}
	return nil
}

func (c *lobstrClient) removeTask(ctx context.Context, taskID string) error {
	resp, err := c.do(ctx, resty.MethodDelete, "/tasks/"+taskID, nil, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("lobstr API returned status %d removing task %s", resp.StatusCode(), taskID)
	}
	return nil
}

func (c *lobstrClient) createRun(ctx context.Context, squidID string) (string, error) {
	resp, err := c.do(ctx, resty.MethodPost, "/runs", nil, map[string]string{"squid": squidID})
	if err != nil {
		return "", err
	}
	if resp.StatusCode() >= 300 {
		return "", fmt.Errorf("lobstr API returned status %d creating run", resp.StatusCode())
	}

	var run struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &run); err != nil {
		return "", err
	}
	if run.ID == "" {
		return "", fmt.Errorf("lobstr run response missing id")
	}
	return run.ID, nil
}

type lobstrRunStatus struct {
	Status     string `json:"status"`
	ExportDone bool   `json:"export_done"`
}

func (c *lobstrClient) runStatus(ctx context.Context, runID string) (*lobstrRunStatus, error) {
	resp, err := c.do(ctx, resty.MethodGet, "/runs/"+runID, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("lobstr API returned status %d", resp.StatusCode())
	}

	var status lobstrRunStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *lobstrClient) results(ctx context.Context, runID string) ([]map[string]interface{}, error) {
	return c.listPages(ctx, "/results", map[string]string{"run": runID}, 100)
}

// squidManager resolves the single shared squid for a crawler configuration
// and reconciles its task set with the requested handles.
type squidManager struct {
	client      *lobstrClient
	crawlerHash string
	store       SquidStore
}

// resolveSquid returns the squid id for the crawler: the stored id when it
// still exists remotely, otherwise the result of a remote search. Creation
// is deliberately not attempted here.
func (m *squidManager) resolveSquid(ctx context.Context) (string, error) {
	squidID, err := m.store.Get(ctx, m.crawlerHash)
	if err != nil {
		logrus.Warnf("lobstr: squid store read failed: %v", err)
	}
	if squidID != "" {
		exists, err := m.client.verifySquid(ctx, squidID)
		if err != nil {
			return "", err
		}
		if exists {
			logrus.Debugf("lobstr: reusing squid %s", squidID)
			return squidID, nil
		}
		logrus.Warnf("lobstr: stored squid %s no longer exists, searching", squidID)
		if err := m.store.Delete(ctx, m.crawlerHash); err != nil {
			logrus.Warnf("lobstr: squid store delete failed: %v", err)
		}
	}

	squids, err := m.client.listSquids(ctx)
	if err != nil {
		return "", err
	}
	for _, squid := range squids {
		if firstString(squid, "crawler") == m.crawlerHash {
			squidID = firstString(squid, "id")
			if squidID == "" {
				continue
			}
			logrus.Infof("lobstr: found existing squid %s for crawler %s", squidID, m.crawlerHash)
			if err := m.store.Set(ctx, m.crawlerHash, squidID); err != nil {
				logrus.Warnf("lobstr: squid store write failed: %v", err)
			}
			return squidID, nil
		}
	}

	return "", fmt.Errorf("no squid exists for crawler %s", m.crawlerHash)
}

// ensureTasks reconciles the squid's task set against the requested
// usernames: tasks for handles no longer requested are removed, missing
// handles are added, matching tasks are left untouched.
func (m *squidManager) ensureTasks(ctx context.Context, squidID string, usernames []string) error {
	tasks, err := m.client.listTasks(ctx, squidID)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	existing := make(map[string]string) // username (lower) → task id
	for _, task := range tasks {
		taskURL := ""
		if params, ok := task["params"].(map[string]interface{}); ok {
			taskURL = firstString(params, "url")
		}
		handle := lastPathSegment(taskURL)
		if handle != "" {
			existing[strings.ToLower(handle)] = firstString(task, "id")
		}
	}

	target := make(map[string]bool, len(usernames))
	for _, u := range usernames {
		target[strings.ToLower(u)] = true
	}

	for handle, taskID := range existing {
		if target[handle] {
			continue
		}
		logrus.Infof("lobstr: removing task for @%s", handle)
		if err := m.client.removeTask(ctx, taskID); err != nil {
			return fmt.Errorf("failed to remove task for @%s: %w", handle, err)
		}
	}

	var toAdd []string
	for _, u := range usernames {
		if _, ok := existing[strings.ToLower(u)]; !ok {
			toAdd = append(toAdd, "https://www.instagram.com/"+u+"/")
		}
	}
	if len(toAdd) > 0 {
		logrus.Infof("lobstr: adding %d tasks", len(toAdd))
		if err := m.client.addTasks(ctx, squidID, toAdd); err != nil {
			return fmt.Errorf("failed to add tasks: %w", err)
		}
	}

	return nil
}

// LobstrFetcher drives a single shared Lobstr worker group: reconcile its
// task set with the tracked accounts, start one run for the whole group,
// wait for the export and demultiplex the results per account.
type LobstrFetcher struct {
	client       *lobstrClient
	store        SquidStore
	crawlerHash  string
	pollInterval time.Duration
	maxWait      time.Duration

	// The squid is a singleton remote resource: only one
	// reconcile-and-run sequence may be in flight at a time.
	mu sync.Mutex
}

// NewLobstrFetcher creates a new Lobstr fetcher
func NewLobstrFetcher(apiKey, crawlerHash string, store SquidStore) *LobstrFetcher {
	return &LobstrFetcher{
		client:       newLobstrClient(apiKey),
		store:        store,
		crawlerHash:  crawlerHash,
		pollInterval: 10 * time.Second,
		maxWait:      10 * time.Minute,
	}
}

func (f *LobstrFetcher) Name() string {
	return "lobstr"
}

// ProcessAccounts runs one reconcile-run-collect sequence and dispatches the
// demultiplexed results to the callback, one goroutine per account with
// failures isolated from one another.
func (f *LobstrFetcher) ProcessAccounts(ctx context.Context, accounts []*models.Account, onAccountReady Callback) error {
	if len(accounts) == 0 {
		return nil
	}

	f.mu.Lock()
	results, err := f.collectResults(ctx, accounts)
	f.mu.Unlock()
	if err != nil {
		return fmt.Errorf("lobstr fetch failed: %w", err)
	}
	logrus.Infof("lobstr: run finished with %d results", len(results))

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(acc *models.Account) {
			defer wg.Done()
			posts := parseLobstrResults(results, acc.Username)
			if len(posts) == 0 {
				logrus.Warnf("lobstr: no results for @%s", acc.Username)
			}
			if err := onAccountReady(ctx, acc, posts); err != nil {
				logrus.Errorf("lobstr: failed to process posts for @%s: %v", acc.Username, err)
			}
		}(account)
	}
	wg.Wait()

	return nil
}

func (f *LobstrFetcher) collectResults(ctx context.Context, accounts []*models.Account) ([]map[string]interface{}, error) {
	manager := &squidManager{client: f.client, crawlerHash: f.crawlerHash, store: f.store}

	squidID, err := manager.resolveSquid(ctx)
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(accounts))
	for _, account := range accounts {
		usernames = append(usernames, account.Username)
	}

	if err := manager.ensureTasks(ctx, squidID, usernames); err != nil {
		return nil, err
	}

	runID, err := f.client.createRun(ctx, squidID)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	logrus.Infof("lobstr: started run %s for squid %s (%d accounts)", runID, squidID, len(accounts))

	return f.pollUntilDone(ctx, runID)
}

// pollUntilDone waits for the run's export-complete signal, bounded by the
// maximum wait.
func (f *LobstrFetcher) pollUntilDone(ctx context.Context, runID string) ([]map[string]interface{}, error) {
	for elapsed := time.Duration(0); elapsed < f.maxWait; elapsed += f.pollInterval {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.pollInterval):
		}

		status, err := f.client.runStatus(ctx, runID)
		if err != nil {
			logrus.Warnf("lobstr: failed to poll run %s: %v", runID, err)
			continue
		}

		if status.Status == "error" {
			return nil, fmt.Errorf("run %s finished with error", runID)
		}
		if status.ExportDone {
			return f.client.results(ctx, runID)
		}
	}

	return nil, fmt.Errorf("run %s did not finish within %s", runID, f.maxWait)
}

// parseLobstrResults extracts the posts belonging to one account from the
// shared result set. Ownership is matched case-insensitively against the
// task input URL or the item's owner username.
func parseLobstrResults(results []map[string]interface{}, username string) []models.FetchedPost {
	var posts []models.FetchedPost
	for _, item := range results {
		if !resultBelongsTo(item, username) {
			continue
		}
		if post, ok := lobstrItemToPost(item); ok {
			posts = append(posts, post)
		}
	}
	return posts
}

func resultBelongsTo(item map[string]interface{}, username string) bool {
	if inputURL := firstString(item, "input_url"); inputURL != "" {
		return strings.EqualFold(lastPathSegment(inputURL), username)
	}

	owner := firstString(item, "owner_username", "username")
	if owner == "" {
		if nested, ok := item["owner"].(map[string]interface{}); ok {
			owner = firstString(nested, "username")
		}
	}
	// Without any owner field the item cannot be attributed elsewhere;
	// keep it rather than silently drop data.
	if owner == "" {
		return true
	}
	return strings.EqualFold(owner, username)
}

func lobstrItemToPost(item map[string]interface{}) (models.FetchedPost, bool) {
	code := firstString(item, "shortcode", "post_code", "code")
	if code == "" {
		return models.FetchedPost{}, false
	}

	postURL := firstString(item, "reel_url", "post_url", "url")
	if postURL == "" {
		postURL = "https://www.instagram.com/reel/" + code + "/"
	}

	views := firstInt64(item, "views_count", "video_view_count", "views", "play_count")
	likes := firstInt64(item, "likes_count", "like_count", "likes")

	publishedAt := asTime(firstValue(item, "timestamp", "posted_at", "taken_at_timestamp", "taken_at"))

	productType := strings.ToLower(firstString(item, "product_type"))
	isVideo := item["is_video"] == true || item["is_reel"] == true
	contentType := models.ContentTypePost
	if productType == "clips" || isVideo {
		contentType = models.ContentTypeReel
	}

	return models.FetchedPost{
		Code:        code,
		URL:         postURL,
		Views:       views,
		Likes:       likes,
		PublishedAt: publishedAt,
		Type:        contentType,
	}, true
}

func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if trimmed == "" {
		return ""
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Path != "" {
		trimmed = strings.TrimRight(parsed.Path, "/")
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

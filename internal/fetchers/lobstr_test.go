package fetchers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instapulse/instapulse/internal/models"
)

const testCrawlerHash = "crawler-hash-1"

type lobstrServerState struct {
	mu           sync.Mutex
	removedTasks []string
	addedURLs    []string
	statusPolls  int
	runsCreated  int
}

// newLobstrServer simulates the full reconcile-run-collect flow: a stale
// squid in storage, the real squid found by search, tasks for userA/userB/
// userC and results for userB/userC/userD.
func newLobstrServer(t *testing.T, state *lobstrServerState) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))

		switch {
		case r.Method == "GET" && r.URL.Path == "/squids/stale-squid":
			w.WriteHeader(http.StatusNotFound)

		case r.Method == "GET" && r.URL.Path == "/squids/squid-1":
			w.Write([]byte(`{"id":"squid-1"}`))

		case r.Method == "GET" && r.URL.Path == "/squids":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "squid-other", "crawler": "some-other-crawler"},
				{"id": "squid-1", "crawler": testCrawlerHash},
			})

		case r.Method == "GET" && r.URL.Path == "/tasks":
			assert.Equal(t, "squid-1", r.URL.Query().Get("squid"))
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "task-a", "params": map[string]string{"url": "https://www.instagram.com/UserA/"}},
				{"id": "task-b", "params": map[string]string{"url": "https://www.instagram.com/userb/"}},
				{"id": "task-c", "params": map[string]string{"url": "https://www.instagram.com/UserC"}},
			})

		case r.Method == "POST" && r.URL.Path == "/tasks":
			var body struct {
				Tasks []map[string]string `json:"tasks"`
				Squid string              `json:"squid"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "squid-1", body.Squid)

			state.mu.Lock()
			for _, task := range body.Tasks {
				state.addedURLs = append(state.addedURLs, task["url"])
			}
			state.mu.Unlock()
			w.WriteHeader(http.StatusCreated)

		case r.Method == "DELETE" && strings.HasPrefix(r.URL.Path, "/tasks/"):
			state.mu.Lock()
			state.removedTasks = append(state.removedTasks, strings.TrimPrefix(r.URL.Path, "/tasks/"))
			state.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)

		case r.Method == "POST" && r.URL.Path == "/runs":
			state.mu.Lock()
			state.runsCreated++
			state.mu.Unlock()
			w.Write([]byte(`{"id":"run-1"}`))

		case r.Method == "GET" && r.URL.Path == "/runs/run-1":
			state.mu.Lock()
			state.statusPolls++
			done := state.statusPolls > 1
			state.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "processing", "export_done": done})

		case r.Method == "GET" && r.URL.Path == "/results":
			assert.Equal(t, "run-1", r.URL.Query().Get("run"))
			items := []map[string]interface{}{
				{"input_url": "https://www.instagram.com/UserB/", "shortcode": "B1", "views_count": 900, "likes_count": 40, "timestamp": float64(1724800000), "product_type": "clips"},
				{"input_url": "https://www.instagram.com/userc/", "shortcode": "C1", "views_count": 300, "likes_count": 10, "timestamp": float64(1724800000)},
				{"owner": map[string]interface{}{"username": "UserD"}, "shortcode": "D1", "play_count": 120, "like_count": 5, "posted_at": "2026-08-28T10:00:00"},
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"data": items, "next": nil})

		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestLobstrFetcher(serverURL string, store SquidStore) *LobstrFetcher {
	f := NewLobstrFetcher("test-key", testCrawlerHash, store)
	f.client.client = resty.New().
		SetBaseURL(serverURL).
		SetHeader("Authorization", "Token test-key").
		SetHeader("Content-Type", "application/json")
	f.client.rateLimitCooldown = time.Millisecond
	f.pollInterval = time.Millisecond
	f.maxWait = time.Second
	return f
}

func TestLobstrFetcherReconcilesAndDemuxes(t *testing.T) {
	ctx := context.Background()
	state := &lobstrServerState{}
	server := newLobstrServer(t, state)
	defer server.Close()

	store := NewMemorySquidStore()
	require.NoError(t, store.Set(ctx, testCrawlerHash, "stale-squid"))

	fetcher := newTestLobstrFetcher(server.URL, store)

	accounts := []*models.Account{
		{ID: 2, Username: "userb"},
		{ID: 3, Username: "userc"},
		{ID: 4, Username: "userd"},
	}

	var mu sync.Mutex
	got := make(map[string][]models.FetchedPost)
	err := fetcher.ProcessAccounts(ctx, accounts, func(_ context.Context, acc *models.Account, posts []models.FetchedPost) error {
		mu.Lock()
		got[acc.Username] = posts
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Stale mapping was replaced by the searched squid
	squidID, err := store.Get(ctx, testCrawlerHash)
	require.NoError(t, err)
	assert.Equal(t, "squid-1", squidID)

	// Reconciliation: userA dropped, userd added, userb/userc untouched
	assert.Equal(t, []string{"task-a"}, state.removedTasks)
	assert.Equal(t, []string{"https://www.instagram.com/userd/"}, state.addedURLs)

	assert.Equal(t, 1, state.runsCreated, "one run covers the whole group")
	assert.GreaterOrEqual(t, state.statusPolls, 2, "run should be polled until export_done")

	require.Len(t, got, 3)
	require.Len(t, got["userb"], 1)
	assert.Equal(t, "B1", got["userb"][0].Code)
	assert.Equal(t, int64(900), got["userb"][0].Views)
	assert.Equal(t, models.ContentTypeReel, got["userb"][0].Type)

	require.Len(t, got["userc"], 1)
	assert.Equal(t, "C1", got["userc"][0].Code)

	require.Len(t, got["userd"], 1)
	assert.Equal(t, "D1", got["userd"][0].Code)
	assert.Equal(t, int64(120), got["userd"][0].Views)
}

func TestLobstrFetcherRunTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/squids/squid-1":
			w.Write([]byte(`{"id":"squid-1"}`))
		case r.Method == "GET" && r.URL.Path == "/tasks":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{"id": "task-a", "params": map[string]string{"url": "https://www.instagram.com/usera/"}},
			})
		case r.Method == "POST" && r.URL.Path == "/runs":
			w.Write([]byte(`{"id":"run-1"}`))
		case r.Method == "GET" && r.URL.Path == "/runs/run-1":
			// Never finishes
			w.Write([]byte(`{"status":"processing","export_done":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemorySquidStore()
	require.NoError(t, store.Set(ctx, testCrawlerHash, "squid-1"))

	fetcher := newTestLobstrFetcher(server.URL, store)
	fetcher.maxWait = 20 * time.Millisecond
	fetcher.pollInterval = 5 * time.Millisecond

	err := fetcher.ProcessAccounts(ctx, []*models.Account{{ID: 1, Username: "usera"}}, func(_ context.Context, _ *models.Account, _ []models.FetchedPost) error {
		t.Fatal("callback must not fire when the run never finishes")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
}

func TestLobstrFetcherFailsWhenNoSquidExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" && r.URL.Path == "/squids" {
			json.NewEncoder(w).Encode([]map[string]interface{}{})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestLobstrFetcher(server.URL, NewMemorySquidStore())

	err := fetcher.ProcessAccounts(context.Background(), []*models.Account{{ID: 1, Username: "usera"}}, func(_ context.Context, _ *models.Account, _ []models.FetchedPost) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no squid exists")
}

func TestParseLobstrResults(t *testing.T) {
	results := []map[string]interface{}{
		{"input_url": "https://www.instagram.com/NASA/", "shortcode": "N1", "views_count": float64(100)},
		{"owner_username": "Nasa", "shortcode": "N2", "views_count": float64(200)},
		{"owner": map[string]interface{}{"username": "nasa"}, "shortcode": "N3", "views_count": float64(300)},
		{"input_url": "https://www.instagram.com/spacex/", "shortcode": "S1", "views_count": float64(400)},
		{"shortcode": "X1", "views_count": float64(500)},
	}

	posts := parseLobstrResults(results, "nasa")
	require.Len(t, posts, 4)

	codes := make([]string, 0, len(posts))
	for _, p := range posts {
		codes = append(codes, p.Code)
	}
	assert.Equal(t, []string{"N1", "N2", "N3", "X1"}, codes, "ownership matches case-insensitively; unattributable items are kept")
}

func TestLobstrItemToPost(t *testing.T) {
	post, ok := lobstrItemToPost(map[string]interface{}{
		"shortcode":    "ABC",
		"views_count":  float64(0),
		"play_count":   float64(750),
		"likes_count":  float64(33),
		"timestamp":    float64(1724800000),
		"product_type": "clips",
	})
	require.True(t, ok)
	assert.Equal(t, "ABC", post.Code)
	assert.Equal(t, int64(750), post.Views, "play_count is used when views_count is absent")
	assert.Equal(t, int64(33), post.Likes)
	assert.Equal(t, models.ContentTypeReel, post.Type)
	assert.Equal(t, "https://www.instagram.com/reel/ABC/", post.URL)

	_, ok = lobstrItemToPost(map[string]interface{}{"views_count": float64(10)})
	assert.False(t, ok, "items without a code are dropped")
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "nasa", lastPathSegment("https://www.instagram.com/nasa/"))
	assert.Equal(t, "nasa", lastPathSegment("https://www.instagram.com/nasa"))
	assert.Equal(t, "nasa", lastPathSegment("nasa"))
	assert.Equal(t, "", lastPathSegment(""))
}

func TestDecodeList(t *testing.T) {
	items, hasNext, err := decodeList([]byte(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.False(t, hasNext)

	next := "https://api.lobstr.io/v1/tasks?page=2"
	body, _ := json.Marshal(map[string]interface{}{"data": []map[string]string{{"id": "c"}}, "next": next})
	items, hasNext, err = decodeList(body)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.True(t, hasNext)

	_, _, err = decodeList([]byte(`"nope"`))
	assert.Error(t, err)
}

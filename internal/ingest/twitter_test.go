package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentiment-labeler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTwitterClient(t *testing.T, baseURL string) *TwitterClient {
	t.Helper()
	c, err := NewTwitterClient(TwitterConfig{
		BearerToken:       "token",
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewTwitterClientRequiresToken(t *testing.T) {
	_, err := NewTwitterClient(TwitterConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestTwitterSearchPaginates(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []url.Values
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tweets/search/recent", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("next_token") == "" {
			fmt.Fprint(w, `{"data":[
				{"id":"123","text":"hello","created_at":"2024-05-01T10:00:00.000Z","public_metrics":{"like_count":7}},
				{"id":"124","text":"@bob nope","created_at":"2024-05-01T11:00:00.000Z","public_metrics":{"like_count":0},
				 "referenced_tweets":[{"type":"replied_to","id":"123"}]}
			],"meta":{"result_count":2,"next_token":"page2"}}`)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"125","text":"third","public_metrics":{"like_count":1}},
			{"id":"126","text":"fourth","public_metrics":{"like_count":2}}
		],"meta":{"result_count":2}}`)
	}))
	defer srv.Close()

	c := newTestTwitterClient(t, srv.URL)
	rows, err := c.Search(context.Background(), SearchQuery{Query: "scam lang:en", Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, models.InputRow{
		ID:       16677,
		Text:     "hello",
		Likes:    7,
		Posted:   "2024-05-01T10:00:00.000Z",
		Platform: models.PlatformTwitter,
	}, rows[0])
	assert.Equal(t, "[REDACTED] nope", rows[1].Text)
	assert.True(t, rows[1].IsReply)
	assert.Equal(t, "third", rows[2].Text)

	require.Len(t, queries, 2)
	assert.Equal(t, "scam lang:en", queries[0].Get("query"))
	assert.Equal(t, "10", queries[0].Get("max_results"))
	assert.Equal(t, twitterFields, queries[0].Get("tweet.fields"))
	assert.Empty(t, queries[0].Get("start_time"))
	assert.Equal(t, "page2", queries[1].Get("next_token"))
}

func TestTwitterSearchFullArchiveDates(t *testing.T) {
	var (
		mu  sync.Mutex
		got url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tweets/search/all", r.URL.Path)
		mu.Lock()
		got = r.URL.Query()
		mu.Unlock()
		fmt.Fprint(w, `{"meta":{"result_count":0}}`)
	}))
	defer srv.Close()

	c := newTestTwitterClient(t, srv.URL)
	rows, err := c.Search(context.Background(), SearchQuery{
		Query: "x",
		Limit: 250,
		Scope: "all",
		Start: "2024-01-01",
		End:   "2024-02-01T12:30:00Z",
	})
	require.NoError(t, err)
	assert.Empty(t, rows)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "2024-01-01T00:00:00Z", got.Get("start_time"))
	assert.Equal(t, "2024-02-01T12:30:00Z", got.Get("end_time"))
	assert.Equal(t, "100", got.Get("max_results"))
}

func TestTwitterSearchWaitsOnRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("x-rate-limit-reset", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"1","text":"ok"}],"meta":{"result_count":1}}`)
	}))
	defer srv.Close()

	c := newTestTwitterClient(t, srv.URL)
	var slept []time.Duration
	c.now = func() time.Time { return now }
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	rows, err := c.Search(context.Background(), SearchQuery{Query: "x", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, []time.Duration{31 * time.Second}, slept)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTwitterSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"title":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := newTestTwitterClient(t, srv.URL)
	_, err := c.Search(context.Background(), SearchQuery{Query: "x"})
	assert.ErrorContains(t, err, "401")

	_, err = c.Search(context.Background(), SearchQuery{Query: "  "})
	assert.Error(t, err)

	_, err = c.Search(context.Background(), SearchQuery{Query: "x", Scope: "all", Start: "yesterday"})
	assert.Error(t, err)
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/ratelimit"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTwitterBaseURL = "https://api.twitter.com/2"

	twitterPageSize    = 100
	twitterMinPageSize = 10
	twitterFields      = "created_at,public_metrics,referenced_tweets"
)

// TwitterConfig configures the X API v2 search client.
type TwitterConfig struct {
	BearerToken string
	BaseURL     string
	// Requests per second allowed by the client side pacer.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// TwitterClient collects rows from X API v2 recent/full-archive search.
type TwitterClient struct {
	bearer     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// SearchQuery describes one collection run.
type SearchQuery struct {
	Query string
	Limit int
	Scope string // "recent" or "all"
	Start string // YYYY-MM-DD or RFC 3339, full-archive only
	End   string
}

type tweetPage struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			LikeCount int `json:"like_count"`
		} `json:"public_metrics"`
		ReferencedTweets []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"referenced_tweets"`
	} `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// NewTwitterClient creates a search client.
func NewTwitterClient(cfg TwitterConfig, logger *zap.Logger) (*TwitterClient, error) {
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("X bearer token is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwitterBaseURL
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &TwitterClient{
		bearer:     cfg.BearerToken,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:     logger,
		now:        time.Now,
		sleep:      ratelimit.Sleep,
	}, nil
}

// Search pages through results until Limit rows are collected or the API has
// no more pages. Text is anonymized and ids are derived from the tweet id.
func (c *TwitterClient) Search(ctx context.Context, q SearchQuery) ([]models.InputRow, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if q.Limit <= 0 {
		q.Limit = twitterPageSize
	}

	endpoint := c.baseURL + "/tweets/search/recent"
	fullArchive := strings.EqualFold(q.Scope, "all")
	if fullArchive {
		endpoint = c.baseURL + "/tweets/search/all"
	}

	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("tweet.fields", twitterFields)
	if fullArchive {
		if start, err := toISO8601(q.Start); err != nil {
			return nil, err
		} else if start != "" {
			params.Set("start_time", start)
		}
		if end, err := toISO8601(q.End); err != nil {
			return nil, err
		} else if end != "" {
			params.Set("end_time", end)
		}
	}

	var rows []models.InputRow
	remaining := q.Limit
	for remaining > 0 {
		params.Set("max_results", strconv.Itoa(max(twitterMinPageSize, min(twitterPageSize, remaining))))

		page, err := c.fetch(ctx, endpoint+"?"+params.Encode())
		if err != nil {
			return rows, err
		}

		for _, tw := range page.Data {
			if len(rows) >= q.Limit {
				break
			}
			isReply := false
			for _, ref := range tw.ReferencedTweets {
				if ref.Type == "replied_to" {
					isReply = true
				}
			}
			text := StripPII(tw.Text)
			rows = append(rows, models.InputRow{
				ID:       ShortID(tw.ID, text),
				Text:     text,
				Likes:    tw.PublicMetrics.LikeCount,
				IsReply:  isReply,
				Posted:   tw.CreatedAt,
				Platform: models.PlatformTwitter,
			})
		}

		remaining = q.Limit - len(rows)
		if page.Meta.NextToken == "" || len(page.Data) == 0 {
			break
		}
		params.Set("next_token", page.Meta.NextToken)
	}

	c.logger.Info("Tweets collected",
		zap.String("scope", strings.ToLower(q.Scope)),
		zap.Int("rows", len(rows)))

	return rows, nil
}

// fetch performs one paced GET, waiting out 429 responses until the
// advertised reset time.
func (c *TwitterClient) fetch(ctx context.Context, target string) (*tweetPage, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.bearer)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("X API request failed: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := 15 * time.Minute
			if reset, err := strconv.ParseInt(resp.Header.Get("x-rate-limit-reset"), 10, 64); err == nil {
				wait = time.Unix(reset, 0).Sub(c.now()) + time.Second
			}
			c.logger.Warn("X API rate limited, waiting for reset", zap.Duration("wait", wait))
			if err := c.sleep(ctx, max(wait, time.Second)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("X API returned status %d: %s", resp.StatusCode, string(body))
		}

		var page tweetPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode X API response: %w", err)
		}
		if len(page.Data) == 0 && len(page.Errors) > 0 {
			return nil, fmt.Errorf("X API error: %s", page.Errors[0].Message)
		}
		return &page, nil
	}
}

// toISO8601 normalizes a date or timestamp to RFC 3339 in UTC.
func toISO8601(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if len(s) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return "", fmt.Errorf("invalid date %q: %w", s, err)
		}
		return t.UTC().Format(time.RFC3339), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("invalid timestamp %q", s)
}

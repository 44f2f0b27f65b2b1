package ingest

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sentiment-labeler/internal/models"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// collectCommentsJS returns every rendered comment on a watch page.
const collectCommentsJS = `(() => {
  const out = [];
  document.querySelectorAll('ytd-comment-view-model, ytd-comment-renderer').forEach(el => {
    const text = el.querySelector('#content-text');
    if (!text) return;
    const link = el.querySelector('#published-time-text a, .published-time-text a');
    const likes = el.querySelector('#vote-count-middle');
    out.push({
      id: link ? link.href : '',
      text: text.innerText || '',
      likes: likes ? likes.innerText.trim() : '',
      posted: link ? link.innerText.trim() : '',
      reply: el.closest('#replies') !== null,
    });
  });
  return out;
})()`

// YouTubeConfig configures the headless comment scraper.
type YouTubeConfig struct {
	Headless    bool
	MaxScrolls  int
	ScrollPause time.Duration
	Timeout     time.Duration
}

// YouTubeScraper collects comments from watch pages with a headless browser.
type YouTubeScraper struct {
	cfg    YouTubeConfig
	logger *zap.Logger
}

type scrapedComment struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Likes  string `json:"likes"`
	Posted string `json:"posted"`
	Reply  bool   `json:"reply"`
}

// NewYouTubeScraper creates a scraper. The browser is started per call.
func NewYouTubeScraper(cfg YouTubeConfig, logger *zap.Logger) *YouTubeScraper {
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 20
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 1500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &YouTubeScraper{cfg: cfg, logger: logger}
}

// Comments opens videoURL, scrolls the comment section and returns up to
// limit anonymized rows. A non-positive limit returns everything loaded.
func (s *YouTubeScraper) Comments(ctx context.Context, videoURL string, limit int) ([]models.InputRow, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("mute-audio", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.logger.Sugar().Debugf))
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, s.cfg.Timeout)
	defer cancelTimeout()

	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(videoURL),
		chromedp.WaitVisible(`ytd-app`, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", videoURL, err)
	}

	var comments []scrapedComment
	for i := 0; i < s.cfg.MaxScrolls; i++ {
		if err := chromedp.Run(browserCtx,
			chromedp.Evaluate(`window.scrollTo(0, document.documentElement.scrollHeight)`, nil),
			chromedp.Sleep(s.cfg.ScrollPause),
			chromedp.Evaluate(collectCommentsJS, &comments),
		); err != nil {
			return nil, fmt.Errorf("failed to scroll comments: %w", err)
		}
		if limit > 0 && len(comments) >= limit {
			break
		}
	}

	rows := commentRows(comments, limit)
	s.logger.Info("YouTube comments collected",
		zap.String("url", videoURL),
		zap.Int("rendered", len(comments)),
		zap.Int("rows", len(rows)))

	return rows, nil
}

// commentRows converts scraped comments to rows, skipping empty texts.
func commentRows(comments []scrapedComment, limit int) []models.InputRow {
	rows := make([]models.InputRow, 0, len(comments))
	for _, c := range comments {
		if limit > 0 && len(rows) >= limit {
			break
		}
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		text = StripPII(text)
		rows = append(rows, models.InputRow{
			ID:       ShortID(commentID(c.ID), text),
			Text:     text,
			Likes:    ParseLikes(c.Likes),
			IsReply:  c.Reply,
			Posted:   c.Posted,
			Platform: models.PlatformYouTube,
		})
	}
	return rows
}

// commentID extracts the lc parameter from a comment permalink.
func commentID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if lc := u.Query().Get("lc"); lc != "" {
		return lc
	}
	return link
}

// ParseLikes reads abbreviated like counts such as "12", "1,234", "1.2K" or "3M".
func ParseLikes(s string) int {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if s == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(math.Round(v * mult))
}

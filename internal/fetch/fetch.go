package fetch

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"github.com/samer-khoury/mizan/models"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 2 << 20
	userAgent      = "MizanAssistant/1.0 (+legal-research)"
)

// TitleResolver fills in missing titles on grounding sources. Web grounding
// often returns bare redirect URIs; the resolver fetches the page and reads
// its readable title. Failures leave the source untouched.
type TitleResolver struct {
	httpClient *http.Client
	logger     *log.Logger
	headless   bool
}

// NewTitleResolver builds a resolver. With headless enabled it falls back to
// a browser render when plain HTTP yields no title.
func NewTitleResolver(logger *log.Logger, headless bool) *TitleResolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	}
	return &TitleResolver{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		headless:   headless,
	}
}

// Resolve fills empty Title fields in place. Sources that already carry a
// title are left alone.
func (r *TitleResolver) Resolve(ctx context.Context, sources []models.Source) {
	for i := range sources {
		if sources[i].Title != "" || sources[i].URI == "" {
			continue
		}
		title, err := r.titleFor(ctx, sources[i].URI)
		if err != nil {
			r.logger.Printf("resolve title %s: %v", sources[i].URI, err)
			continue
		}
		sources[i].Title = title
	}
}

func (r *TitleResolver) titleFor(ctx context.Context, rawURL string) (string, error) {
	html, err := r.fetchHTTP(ctx, rawURL)
	if err == nil {
		if title := extractTitle(html, rawURL); title != "" {
			return title, nil
		}
	}
	if !r.headless {
		if err != nil {
			return "", err
		}
		return "", errors.New("no title in document")
	}
	html, err = r.fetchHeadless(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if title := extractTitle(html, rawURL); title != "" {
		return title, nil
	}
	return "", errors.New("no title in document")
}

func (r *TitleResolver) fetchHTTP(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", errors.New(resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (r *TitleResolver) fetchHeadless(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func extractTitle(html, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.Title)
}

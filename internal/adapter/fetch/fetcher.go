package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.ContentFetcher = (*Fetcher)(nil)

// Config controls how sources are downloaded.
type Config struct {
	Timeout   time.Duration // per request
	UserAgent string
	MaxChars  int           // cap on extracted text, in characters
	MaxBytes  int64         // cap on downloaded body
	Interval  time.Duration // minimum gap between requests; 0 disables
	Excludes  []string      // doublestar patterns over host/path
}

func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		UserAgent: "Mozilla/5.0",
		MaxChars:  50000,
		MaxBytes:  20 << 20,
		Interval:  time.Second,
	}
}

// Fetcher resolves a query to search results and downloads each result,
// skipping any that fail.
type Fetcher struct {
	searcher port.Searcher
	client   *http.Client
	cfg      Config
	filter   *URLFilter
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func New(searcher port.Searcher, cfg Config, logger *zap.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Fetcher{
		searcher: searcher,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		filter:   NewURLFilter(cfg.Excludes),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Fetch runs the search immediately and returns a sequence that downloads
// one result per step. The sequence can be consumed once; stopping early
// leaves the remaining URLs untouched.
func (f *Fetcher) Fetch(ctx context.Context, query string, maxResults int) (iter.Seq[domain.Document], error) {
	urls, err := f.searcher.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(urls) > maxResults {
		urls = urls[:maxResults]
	}
	f.logger.Debug("search results", zap.String("query", query), zap.Int("count", len(urls)))

	var consumed atomic.Bool
	return func(yield func(domain.Document) bool) {
		if consumed.Swap(true) {
			return
		}
		for _, u := range urls {
			if ctx.Err() != nil {
				return
			}
			if f.filter.Excluded(u) {
				f.logger.Debug("excluded source", zap.String("url", u))
				continue
			}
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}

			doc, err := f.FetchURL(ctx, u)
			if err != nil {
				if !domain.Recoverable(err) {
					f.logger.Debug("fetch stopped", zap.String("url", u), zap.Error(err))
					return
				}
				f.logger.Warn("skipping source", zap.String("url", u), zap.Error(err))
				continue
			}
			if !yield(doc) {
				return
			}
		}
	}, nil
}

// FetchURL downloads a single URL and extracts its text.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (domain.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Document{}, fmt.Errorf("%w: invalid url %q", domain.ErrFetchFailed, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Document{}, ctxErr
		}
		return domain.Document{}, fmt.Errorf("%w: %v", domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Document{}, fmt.Errorf("%w: status %d", domain.ErrFetchFailed, resp.StatusCode)
	}

	kind := domain.Classify(rawURL, resp.Header.Get("Content-Type"))
	if kind == domain.ContentUnsupported {
		return domain.Document{}, fmt.Errorf("%w: unsupported content type %q",
			domain.ErrExtractionFailed, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return domain.Document{}, fmt.Errorf("%w: read body: %v", domain.ErrFetchFailed, err)
	}

	var title, text string
	switch kind {
	case domain.ContentPDF:
		text, err = ExtractPDF(body)
	default:
		title, text, err = ExtractHTML(bytes.NewReader(body))
	}
	if err != nil {
		return domain.Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("%w: no text in %s", domain.ErrExtractionFailed, kind)
	}

	if title == "" {
		title = TitleFromURL(u)
	}

	return domain.Document{
		URL:       rawURL,
		Title:     title,
		Kind:      kind,
		RawText:   truncateRunes(text, f.cfg.MaxChars),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// TitleFromURL uses the last path segment, falling back to the host.
func TitleFromURL(u *url.URL) string {
	title := path.Base(strings.TrimRight(u.Path, "/"))
	if title == "." || title == "/" || title == "" {
		title = u.Hostname()
	}
	return truncateRunes(title, 100)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultPerPage      = 100
	defaultPagerRetries = 3
)

// HTTPPager fetches pages from a JSON listing endpoint of the form
// GET <url>?page=N&per_page=M answering {"data": [...], "has_more": bool}.
type HTTPPager struct {
	client   *http.Client
	endpoint *url.URL
	perPage  int
	limiter  *rate.Limiter
	header   http.Header
	retries  uint64
	backoff  func() backoff.BackOff
}

type PagerOption func(*HTTPPager)

func WithHTTPClient(c *http.Client) PagerOption {
	return func(p *HTTPPager) {
		p.client = c
	}
}

func WithPerPage(n int) PagerOption {
	return func(p *HTTPPager) {
		if n > 0 {
			p.perPage = n
		}
	}
}

// WithRateLimit caps requests per second; burst is always 1.
func WithRateLimit(perSecond float64) PagerOption {
	return func(p *HTTPPager) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithHeader(key, value string) PagerOption {
	return func(p *HTTPPager) {
		p.header.Set(key, value)
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64, newBackOff func() backoff.BackOff) PagerOption {
	return func(p *HTTPPager) {
		p.retries = n
		if newBackOff != nil {
			p.backoff = newBackOff
		}
	}
}

func NewHTTPPager(endpoint string, opts ...PagerOption) (*HTTPPager, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q must be http or https", endpoint)
	}
	p := &HTTPPager{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: u,
		perPage:  defaultPerPage,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		header:   make(http.Header),
		retries:  defaultPagerRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return b
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type pageResponse struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

// Fetch implements PageFetcher.
func (p *HTTPPager) Fetch(ctx context.Context, page int) (Page, error) {
	var out Page
	op := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := p.fetchOnce(ctx, page)
		if err != nil {
			return err
		}
		out = res
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.backoff(), p.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (p *HTTPPager) fetchOnce(ctx context.Context, page int) (Page, error) {
	u := *p.endpoint
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(p.perPage))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, backoff.Permanent(err)
	}
	req.Header = p.header.Clone()
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, backoff.Permanent(err)
		}
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("page %d: unexpected status %s", page, resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Page{}, statusErr
		}
		return Page{}, backoff.Permanent(statusErr)
	}

	var body pageResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return Page{}, backoff.Permanent(fmt.Errorf("page %d: decode response: %w", page, err))
	}

	records := make([]domain.RawRecord, 0, len(body.Data))
	for _, item := range body.Data {
		record, err := decodeObject(item)
		if err != nil {
			if errors.Is(err, errNotObject) {
				records = append(records, nil)
				continue
			}
			return Page{}, backoff.Permanent(fmt.Errorf("page %d: decode record: %w", page, err))
		}
		records = append(records, record)
	}
	return Page{Records: records, HasMore: body.HasMore}, nil
}

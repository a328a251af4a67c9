// Package reddit fetches ranked subreddit listings over the public JSON
// API. Failures are classified so the scheduler can tell a struggling
// source (retry next tick) from a dead one (back off).
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tgreddit/pkg/logx"
)

const BaseURL = "https://www.reddit.com"

const defaultUserAgent = "tgreddit/1.0"

// ErrKind classifies fetch failures.
type ErrKind int

const (
	// KindTransient covers timeouts, rate limiting and server errors;
	// retry at the next scheduled tick.
	KindTransient ErrKind = iota
	// KindPermanent covers removed or forbidden subreddits; the
	// subscription's cadence should back off.
	KindPermanent
)

type FetchError struct {
	Kind       ErrKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed (%s, http %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data Post `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	log       logx.Logger
}

type Option func(*Client)

// WithBaseURL points the client at a different listing host (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		baseURL:   BaseURL,
		userAgent: defaultUserAgent,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchTop returns the subreddit's top posts for the period, in the
// ranking order reddit returned them.
func (c *Client) FetchTop(ctx context.Context, subreddit string, limit int, period string) ([]Post, error) {
	c.log.Debug("fetching top posts",
		logx.String("subreddit", subreddit), logx.Int("limit", limit), logx.String("time", period))

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("t", period)
	u := fmt.Sprintf("%s/r/%s/top.json?%s", c.baseURL, url.PathEscape(subreddit), q.Encode())

	listing, err := c.getListing(ctx, u)
	if err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// GetLink fetches a single post by id. Some listing entries omit
// post_hint; the direct lookup usually carries it.
func (c *Client) GetLink(ctx context.Context, id string) (*Post, error) {
	u := fmt.Sprintf("%s/api/info.json?id=%s", c.baseURL, url.QueryEscape("t3_"+id))
	listing, err := c.getListing(ctx, u)
	if err != nil {
		return nil, err
	}
	if len(listing.Data.Children) == 0 {
		return nil, &FetchError{Kind: KindPermanent, Err: fmt.Errorf("no post with id %s", id)}
	}
	p := listing.Data.Children[0].Data
	return &p, nil
}

func (c *Client) getListing(ctx context.Context, u string) (*listingResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindPermanent, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: fmt.Errorf("decode listing: %w", err)}
	}
	return &listing, nil
}

func classifyStatus(code int) ErrKind {
	switch {
	case code == http.StatusForbidden, code == http.StatusNotFound, code == http.StatusGone:
		return KindPermanent
	default:
		// 429 and 5xx are retryable; anything else unexpected is
		// treated as retryable too rather than degrading cadence.
		return KindTransient
	}
}

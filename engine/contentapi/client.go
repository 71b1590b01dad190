package contentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

const (
	DefaultBaseURL   = "https://oauth.reddit.com"
	DefaultUserAgent = "leadsignal/1.0 (signal discovery)"
	permalinkHost    = "https://www.reddit.com"
)

// Client talks to the content API with a caller-supplied bearer token.
// It does no retrying or rate limiting of its own.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates a Client. Per-call deadlines come from the caller's context.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UserAgent returns the configured User-Agent.
func (c *Client) UserAgent() string { return c.userAgent }

// ListNewest returns up to limit of the newest posts in source, newest first.
func (c *Client) ListNewest(ctx context.Context, token, source string, limit int) ([]domain.DiscoveredItem, error) {
	u := fmt.Sprintf("%s/r/%s/new?limit=%d&raw_json=1", c.baseURL, url.PathEscape(source), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, token)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp listingResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, domain.Malformed("listing", "decode r/%s: %v", source, err)
	}

	items := make([]domain.DiscoveredItem, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		items = append(items, toItem(source, child.Data))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func toItem(source string, d listingData) domain.DiscoveredItem {
	id := d.Name
	if id == "" {
		id = "t3_" + d.ID
	}
	permalink := d.Permalink
	if strings.HasPrefix(permalink, "/") {
		permalink = permalinkHost + permalink
	}
	return domain.DiscoveredItem{
		ID:          id,
		SourceID:    source,
		Author:      d.Author,
		Title:       d.Title,
		Body:        d.SelfText,
		Score:       d.Score,
		NumComments: d.NumComments,
		Permalink:   permalink,
		CreatedAt:   time.Unix(int64(d.CreatedUTC), 0).UTC(),
	}
}

// Reply posts text as a reply to the post or comment identified by thingID.
func (c *Client) Reply(ctx context.Context, token, thingID, text string) (WriteResult, error) {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {thingID},
		"text":     {text},
	}
	return c.write(ctx, token, "/api/comment", form)
}

// SendMessage sends a private message to the actor.
func (c *Client) SendMessage(ctx context.Context, token, to, subject, text string) (WriteResult, error) {
	form := url.Values{
		"api_type": {"json"},
		"to":       {to},
		"subject":  {subject},
		"text":     {text},
	}
	return c.write(ctx, token, "/api/compose", form)
}

func (c *Client) write(ctx context.Context, token, path string, form url.Values) (WriteResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return WriteResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, token)
	if err != nil {
		return WriteResult{}, err
	}
	defer body.Close()

	var resp writeResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return WriteResult{}, domain.Malformed("write response", "%s: %v", path, err)
	}

	res := WriteResult{OK: len(resp.JSON.Errors) == 0}
	for _, e := range resp.JSON.Errors {
		var se SubError
		if len(e) > 0 {
			se.Code = e[0]
		}
		if len(e) > 1 {
			se.Message = e[1]
		}
		if len(e) > 2 {
			se.Field = e[2]
		}
		res.Errors = append(res.Errors, se)
	}
	if things := resp.JSON.Data.Things; len(things) > 0 {
		res.ThingID = things[0].Data.Name
	}
	return res, nil
}

func (c *Client) do(req *http.Request, token string) (io.ReadCloser, error) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{
			Code:       resp.StatusCode,
			URL:        req.URL.Path,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}
	return resp.Body, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

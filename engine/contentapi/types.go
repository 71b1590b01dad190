// Package contentapi is a client for the external content platform's OAuth
// API: listing a community's newest posts, replying, and private messages.
package contentapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// StatusError is a non-2xx response. RetryAfter is zero when the server sent
// no usable hint.
type StatusError struct {
	Code       int
	URL        string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.Code >= 500:
		return domain.ErrTransient
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return domain.ErrCredential
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// SubError is one entry of the platform's json.errors array: [code, message, field].
type SubError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteResult is the outcome of a reply or private message.
type WriteResult struct {
	OK      bool       `json:"ok"`
	ThingID string     `json:"thing_id,omitempty"`
	Errors  []SubError `json:"errors,omitempty"`
}

// Err returns the sub-errors as one error, or nil when the write succeeded.
func (r WriteResult) Err() error {
	if r.OK {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Code+": "+e.Message)
	}
	return fmt.Errorf("write rejected: %s: %w", strings.Join(msgs, "; "), domain.ErrInvalid)
}

// API listing response types

type listingResponse struct {
	Data struct {
		Children []listingChild `json:"children"`
		After    string         `json:"after"`
	} `json:"data"`
}

type listingChild struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	SelfText    string  `json:"selftext"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type writeResponse struct {
	JSON struct {
		Errors [][]string `json:"errors"`
		Data   struct {
			Things []struct {
				Data struct {
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// Package carbstatus queries the carbstatus network-quality index and turns
// its score into a save-data decision.
package carbstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// IndexData is the body returned by both index endpoints. NValue is nil when
// the API answered without a score.
type IndexData struct {
	Time   float64  `json:"time"`
	NValue *float64 `json:"nvalue"`
	Value  float64  `json:"value"`
}

// DecodeError is returned when a 2xx index response is not valid JSON.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding index response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StatusError is returned when the index API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error status code %d", e.StatusCode)
}

// Options configures a Client.
type Options struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration

	// CacheTTL of zero disables the lookup cache.
	CacheTTL  time.Duration
	CacheSize int

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client calls the carbstatus index API. It is safe for concurrent use.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	cache      *expirable.LRU[string, IndexData]
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		userAgent:  opts.UserAgent,
		httpClient: opts.HTTPClient,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 1024
		}
		c.cache = expirable.NewLRU[string, IndexData](size, nil, opts.CacheTTL)
	}
	return c
}

// Index looks up the score for a target URL, narrowed to the client ip when
// one is known.
func (c *Client) Index(ctx context.Context, target, ip string) (IndexData, error) {
	query := "l=" + url.QueryEscape(target)
	if ip != "" {
		query += "&i=" + url.QueryEscape(ip)
	}
	return c.get(ctx, "/index?"+query)
}

// IndexByIP looks up the score for a client ip alone.
func (c *Client) IndexByIP(ctx context.Context, ip string) (IndexData, error) {
	return c.get(ctx, "/index-by-ip?i="+url.QueryEscape(ip))
}

func (c *Client) get(ctx context.Context, pathAndQuery string) (IndexData, error) {
	if c.cache != nil {
		if data, ok := c.cache.Get(pathAndQuery); ok {
			return data, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+pathAndQuery, nil)
	if err != nil {
		return IndexData{}, fmt.Errorf("error building index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IndexData{}, fmt.Errorf("error fetching index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return IndexData{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var data IndexData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return IndexData{}, &DecodeError{Err: err}
	}

	if c.cache != nil {
		c.cache.Add(pathAndQuery, data)
	}
	return data, nil
}

// Decide reports whether the save-data signal applies to a score. A response
// without a score never does.
func Decide(data IndexData, threshold float64) bool {
	return data.NValue != nil && *data.NValue <= threshold
}

// SaveData runs lookup and applies the threshold. A non-2xx answer or a
// transport failure is logged and means no save-data. A body that cannot be
// decoded is returned as an error for the caller to fail the request with.
func SaveData(lookup func() (IndexData, error), threshold float64) (bool, error) {
	data, err := lookup()
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return false, err
		}
		logrus.Errorf("[CarbStatus]: %v", err)
		return false, nil
	}
	return Decide(data, threshold), nil
}

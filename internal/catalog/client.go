package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"goflare.io/encore/internal/retrier"
)

const (
	// DefaultBaseURL is the public catalog API root.
	DefaultBaseURL = "https://api.spotify.com/v1"
	// DefaultSearchLimit is the page size used when a search asks for none.
	DefaultSearchLimit = 20
	// MaxSearchLimit is the largest page the API serves.
	MaxSearchLimit = 50

	maxErrorBody = 512
)

var (
	// ErrEmptyQuery is returned for a blank search query.
	ErrEmptyQuery = errors.New("search query is empty")
	// ErrEmptyID is returned for a blank resource ID.
	ErrEmptyID = errors.New("resource id is empty")
)

// Client is a read-only HTTP client for the music catalog. It reports failed responses
// as *retrier.HTTPError so that callers can classify them.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithTokenSource authorizes every request with a bearer token from ts.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for baseURL. An empty baseURL means DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs a GET against the catalog and decodes the JSON body into result.
func (c *Client) doRequest(ctx context.Context, endpoint string, query url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("rate limiter: %w", ctxErr)
			}
			// The wait would outlast the deadline; the limiter says so without a context error.
			return fmt.Errorf("rate limiter: %w: %w", context.DeadlineExceeded, err)
		}
	}

	apiURL := c.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return retrier.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return retrier.Permanent(fmt.Errorf("failed to obtain token: %w", err))
		}
		tok.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Catalog request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := retrier.NewHTTPError(resp)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr.Body = strings.TrimSpace(string(body))
		return httpErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return retrier.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

// SearchTracks searches the catalog for tracks matching query. limit is clamped to
// [1, MaxSearchLimit]; zero means DefaultSearchLimit.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, retrier.Permanent(ErrEmptyQuery)
	}

	var resp searchResponse
	params := url.Values{
		"q":     {query},
		"type":  {"track"},
		"limit": {strconv.Itoa(clampLimit(limit))},
	}
	if err := c.doRequest(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}
	return &SearchResult{Tracks: resp.Tracks.Items, Total: resp.Tracks.Total}, nil
}

// Track retrieves a single track by ID.
func (c *Client) Track(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := c.get(ctx, "/tracks/", id, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Album retrieves an album by ID.
func (c *Client) Album(ctx context.Context, id string) (*Album, error) {
	var album Album
	if err := c.get(ctx, "/albums/", id, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// Artist retrieves an artist by ID.
func (c *Client) Artist(ctx context.Context, id string) (*Artist, error) {
	var artist Artist
	if err := c.get(ctx, "/artists/", id, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// Playlist retrieves a playlist and the first page of its tracks.
func (c *Client) Playlist(ctx context.Context, id string) (*Playlist, error) {
	var playlist Playlist
	if err := c.get(ctx, "/playlists/", id, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// CurrentUser retrieves the profile of the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.doRequest(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) get(ctx context.Context, prefix, id string, result any) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return retrier.Permanent(ErrEmptyID)
	}
	return c.doRequest(ctx, prefix+url.PathEscape(id), nil, result)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

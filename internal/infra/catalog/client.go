package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/version"
)

const (
	// DefaultAPIBaseURL is the metadata API base URL
	DefaultAPIBaseURL = "https://api.tidal.com/v1"

	// DefaultQueueBaseURL is the cloud queue store base URL
	DefaultQueueBaseURL = "https://connectqueue.tidal.com/v1"

	// DefaultAuthBaseURL is the OAuth server the receiver refreshes tokens against
	DefaultAuthBaseURL = "https://auth.tidal.com/v1/oauth2"

	// DefaultCountryCode is sent with every call
	DefaultCountryCode = "US"

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// DefaultRetries for idempotent GETs on transient failures
	DefaultRetries = 2

	// DefaultCacheTTL for metadata responses
	DefaultCacheTTL = time.Hour

	// DefaultCacheSize is the number of cached metadata responses
	DefaultCacheSize = 512

	// PageLimit is the page size for metadata listings and queue items
	PageLimit = 100

	// QueueContentLimit is the page size for queue content
	QueueContentLimit = 50
)

// TokenSource supplies bearer tokens and coordinates refreshes.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken() string
	UserID() (string, bool)
	// Refresh renews the access token unless it already differs from stale.
	Refresh(ctx context.Context, stale string) error
}

// Client calls the metadata API and the cloud queue store.
type Client struct {
	apiBaseURL   string
	queueBaseURL string
	authBaseURL  string
	countryCode  string
	retries      int
	cacheTTL     time.Duration

	tokens      TokenSource
	httpClient  *http.Client
	readClient  *http.Client
	writeClient *http.Client
	cache       *expirable.LRU[string, []byte]
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithAPIBaseURL sets the metadata API base URL (useful for testing).
func WithAPIBaseURL(u string) Option {
	return func(c *Client) {
		c.apiBaseURL = u
	}
}

// WithQueueBaseURL sets the queue store base URL (useful for testing).
func WithQueueBaseURL(u string) Option {
	return func(c *Client) {
		c.queueBaseURL = u
	}
}

// WithAuthBaseURL sets the OAuth server URL advertised to receivers.
func WithAuthBaseURL(u string) Option {
	return func(c *Client) {
		c.authBaseURL = u
	}
}

// WithCountryCode sets the country code sent with every call.
func WithCountryCode(code string) Option {
	return func(c *Client) {
		if code != "" {
			c.countryCode = code
		}
	}
}

// WithHTTPClient sets a custom HTTP client for all calls. No retries are added.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetries sets how many times a failed GET is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// WithCacheTTL sets the metadata cache lifetime. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// NewClient creates a catalog client authenticating with tokens.
func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		apiBaseURL:   DefaultAPIBaseURL,
		queueBaseURL: DefaultQueueBaseURL,
		authBaseURL:  DefaultAuthBaseURL,
		countryCode:  DefaultCountryCode,
		retries:      DefaultRetries,
		cacheTTL:     DefaultCacheTTL,
		tokens:       tokens,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.readClient = c.httpClient
		c.writeClient = c.httpClient
	} else {
		// Queue mutations are not idempotent, only reads go through the retrying client.
		retrying := retryablehttp.NewClient()
		retrying.RetryMax = c.retries
		retrying.Logger = nil
		retrying.HTTPClient.Timeout = DefaultTimeout
		c.readClient = retrying.StandardClient()
		c.writeClient = &http.Client{Timeout: DefaultTimeout}
	}

	if c.cacheTTL > 0 {
		c.cache = expirable.NewLRU[string, []byte](DefaultCacheSize, nil, c.cacheTTL)
	}

	return c
}

// QueueBaseURL returns the queue store base URL.
func (c *Client) QueueBaseURL() string {
	return c.queueBaseURL
}

// APIBaseURL returns the metadata API base URL.
func (c *Client) APIBaseURL() string {
	return c.apiBaseURL
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs an authenticated call. A 401 triggers one coordinated token
// refresh and a single retry; a second 401 is final.
func (c *Client) do(ctx context.Context, client *http.Client, method, rawURL string, body any, header http.Header) (*response, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		payload = data
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("access token: %w", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range header {
			req.Header[k] = v
		}

		log.Debug().Str("method", method).Str("url", rawURL).Msg("Catalog request")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if attempt > 0 {
				return nil, ErrUnauthorized
			}
			log.Warn().Str("url", rawURL).Msg("Access token rejected, refreshing")
			if err := c.tokens.Refresh(ctx, token); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusPreconditionFailed:
			return nil, ErrStaleETag
		default:
			return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
		}
	}
}

// url joins base and path and appends the query, always carrying a country code.
func (c *Client) url(base, path string, params url.Values) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if q.Get("countryCode") == "" {
		q.Set("countryCode", c.countryCode)
	}
	return base + path + "?" + q.Encode()
}

// getJSON fetches a metadata resource through the cache.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	rawURL := c.url(c.apiBaseURL, path, params)

	userID, _ := c.tokens.UserID()
	key := userID + ":" + rawURL
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			log.Debug().Str("url", rawURL).Msg("Catalog cache hit")
			return json.Unmarshal(data, out)
		}
	}

	resp, err := c.do(ctx, c.readClient, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if c.cache != nil {
		c.cache.Add(key, resp.body)
	}
	return nil
}

func pageParams(offset, limit int) url.Values {
	return url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
}

// FetchTrack returns the metadata of a single track.
func (c *Client) FetchTrack(ctx context.Context, trackID ID) (*Track, error) {
	var track Track
	if err := c.getJSON(ctx, "/tracks/"+url.PathEscape(trackID.String()), nil, &track); err != nil {
		return nil, fmt.Errorf("fetch track %s: %w", trackID, err)
	}
	return &track, nil
}

// FetchAlbumTracks returns every track of an album.
func (c *Client) FetchAlbumTracks(ctx context.Context, albumID string) ([]QueueTrack, error) {
	return c.fetchAll(ctx, "/albums/"+url.PathEscape(albumID)+"/items")
}

// FetchPlaylistTracks returns every track of a playlist.
func (c *Client) FetchPlaylistTracks(ctx context.Context, playlistID string) ([]QueueTrack, error) {
	return c.fetchAll(ctx, "/playlists/"+url.PathEscape(playlistID)+"/items")
}

// fetchAll walks a paginated listing until totalNumberOfItems are collected.
func (c *Client) fetchAll(ctx context.Context, path string) ([]QueueTrack, error) {
	var items []QueueTrack
	for {
		var page Page[QueueTrack]
		if err := c.getJSON(ctx, path, pageParams(len(items), PageLimit), &page); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}
		if len(page.Items) == 0 {
			break
		}
		items = append(items, page.Items...)
		if len(items) >= page.TotalNumberOfItems {
			break
		}
	}
	return items, nil
}

// FetchQueue returns the queue metadata with its etag and every queue item.
func (c *Client) FetchQueue(ctx context.Context, queueID string) (*Queue, error) {
	base := "/queues/" + url.PathEscape(queueID)

	info, err := c.do(ctx, c.readClient, http.MethodGet, c.url(c.queueBaseURL, base, nil), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch queue %s: %w", queueID, err)
	}

	queue := &Queue{}
	if err := json.Unmarshal(info.body, queue); err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", queueID, err)
	}
	queue.ID = queueID
	queue.ETag = info.header.Get("ETag")
	queue.Items = nil

	for {
		resp, err := c.do(ctx, c.readClient, http.MethodGet,
			c.url(c.queueBaseURL, base+"/items", pageParams(len(queue.Items), PageLimit)), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch queue %s items: %w", queueID, err)
		}
		var page struct {
			Total int         `json:"total"`
			Items []QueueItem `json:"items"`
		}
		if err := json.Unmarshal(resp.body, &page); err != nil {
			return nil, fmt.Errorf("decode queue %s items: %w", queueID, err)
		}
		queue.Total = page.Total
		queue.Items = append(queue.Items, page.Items...)
		if len(page.Items) == 0 || len(queue.Items) >= page.Total {
			break
		}
	}

	return queue, nil
}

// FetchQueueContent returns one page of resolved tracks of a queue.
func (c *Client) FetchQueueContent(ctx context.Context, queueID string, offset, limit int) ([]QueueTrack, error) {
	resp, err := c.do(ctx, c.readClient, http.MethodGet,
		c.url(c.queueBaseURL, "/content/"+url.PathEscape(queueID), pageParams(offset, limit)), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch queue %s content: %w", queueID, err)
	}
	var page Page[QueueTrack]
	if err := json.Unmarshal(resp.body, &page); err != nil {
		return nil, fmt.Errorf("decode queue %s content: %w", queueID, err)
	}
	return page.Items, nil
}

func ifMatch(etag string) http.Header {
	return http.Header{"If-Match": {etag}}
}

// AddToQueue appends tracks after the item afterID (the tail when empty) and
// returns the created items and the new etag.
func (c *Client) AddToQueue(ctx context.Context, queueID, etag, afterID string, tracks []Track, originalOrder int) ([]QueueItem, string, error) {
	items := make([]NewQueueItem, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, NewQueueItem{
			Type:    "track",
			MediaID: t.ID,
			Properties: ItemProperties{
				Active:        false,
				OriginalOrder: originalOrder,
			},
		})
	}
	body := map[string]any{
		"mode":    "append",
		"item_id": afterID,
		"items":   items,
	}

	resp, err := c.do(ctx, c.writeClient, http.MethodPut,
		c.url(c.queueBaseURL, "/queues/"+url.PathEscape(queueID)+"/items", nil), body, ifMatch(etag))
	if err != nil {
		return nil, "", fmt.Errorf("add to queue %s: %w", queueID, err)
	}
	var created struct {
		Items []QueueItem `json:"items"`
	}
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return nil, "", fmt.Errorf("decode added items: %w", err)
	}
	return created.Items, resp.header.Get("ETag"), nil
}

// DeleteFromQueue removes one item and returns the new etag.
func (c *Client) DeleteFromQueue(ctx context.Context, queueID, etag, itemID string) (string, error) {
	resp, err := c.do(ctx, c.writeClient, http.MethodDelete,
		c.url(c.queueBaseURL, "/queues/"+url.PathEscape(queueID)+"/items/"+url.PathEscape(itemID), nil), nil, ifMatch(etag))
	if err != nil {
		return "", fmt.Errorf("delete from queue %s: %w", queueID, err)
	}
	return resp.header.Get("ETag"), nil
}

// ReorderQueue moves moveID after afterID and returns the new etag.
func (c *Client) ReorderQueue(ctx context.Context, queueID, etag, moveID, afterID string) (string, error) {
	body := map[string]any{
		"ids":   []string{moveID},
		"after": afterID,
	}
	resp, err := c.do(ctx, c.writeClient, http.MethodPatch,
		c.url(c.queueBaseURL, "/queues/"+url.PathEscape(queueID)+"/items", nil), body, ifMatch(etag))
	if err != nil {
		return "", fmt.Errorf("reorder queue %s: %w", queueID, err)
	}
	return resp.header.Get("ETag"), nil
}

// CreateQueue creates a cloud queue and returns it with its etag.
func (c *Client) CreateQueue(ctx context.Context, q NewQueue) (*Queue, error) {
	resp, err := c.do(ctx, c.writeClient, http.MethodPost, c.url(c.queueBaseURL, "/queues", nil), q, nil)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	queue := &Queue{}
	if err := json.Unmarshal(resp.body, queue); err != nil {
		return nil, fmt.Errorf("decode created queue: %w", err)
	}
	queue.ETag = resp.header.Get("ETag")
	if queue.Total == 0 {
		queue.Total = len(queue.Items)
	}
	return queue, nil
}

// ServerInfo returns the endpoints and credentials a receiver needs to fetch
// the queue and its content by itself.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("access token: %w", err)
	}

	var oauth OAuthServerInfo
	oauth.ServerURL = c.authBaseURL + "/token"
	oauth.AuthInfo.HeaderAuth = "Bearer " + token
	oauth.AuthInfo.OAuthParameters = OAuthParameters{
		AccessToken:  token,
		RefreshToken: c.tokens.RefreshToken(),
	}
	oauth.HTTPHeaderFields = []string{}
	oauth.FormParameters = map[string]string{
		"scope":      "r_usr",
		"grant_type": "switch_client",
	}

	return ServerInfo{
		QueueServerURL:   c.queueBaseURL + "/queues",
		ContentServerURL: c.apiBaseURL,
		Auth:             AuthInfo{OAuthServerInfo: oauth},
	}, nil
}

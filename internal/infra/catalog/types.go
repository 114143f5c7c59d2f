// Package catalog provides the REST client for the streaming service metadata API
// and its cloud queue store.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Common errors
var (
	// ErrUnauthorized indicates the call still failed authentication after a token refresh
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStaleETag indicates the queue store rejected a mutation made with an outdated etag
	ErrStaleETag = errors.New("stale queue etag")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")
)

// APIError is returned for any other non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api error %d: %s", e.Status, e.Body)
}

// ID is an opaque identifier. The service sends some ids as JSON numbers and
// others as strings; both decode into the same textual form.
type ID string

// UnmarshalJSON accepts both quoted and numeric ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers, everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

// Artist is a track or album artist.
type Artist struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Album is the album a track belongs to.
type Album struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
	Cover string `json:"cover,omitempty"`
}

// Track is a catalog track.
type Track struct {
	ID           ID       `json:"id"`
	Title        string   `json:"title"`
	Duration     int      `json:"duration"` // seconds
	Artists      []Artist `json:"artists,omitempty"`
	Album        Album    `json:"album"`
	AudioQuality string   `json:"audioQuality,omitempty"`
	AudioModes   []string `json:"audioModes,omitempty"`
}

// DurationMs returns the track duration in milliseconds.
func (t Track) DurationMs() int64 {
	return int64(t.Duration) * 1000
}

// QueueTrack pairs a catalog object with its kind, as returned by queue content calls.
type QueueTrack struct {
	Item Track  `json:"item"`
	Type string `json:"type"`
}

// ItemProperties are the receiver-visible attributes of a queue slot.
type ItemProperties struct {
	Active        bool   `json:"active"`
	OriginalOrder int    `json:"original_order"`
	SourceID      string `json:"sourceId,omitempty"`
	SourceType    string `json:"sourceType,omitempty"`
}

// QueueItem is one playback slot of a cloud queue.
type QueueItem struct {
	ID         string         `json:"id"`
	MediaID    ID             `json:"media_id"`
	Type       string         `json:"type,omitempty"`
	Properties ItemProperties `json:"properties"`
}

// Queue is a cloud queue. ETag is taken from the response header, not the body.
type Queue struct {
	ID         string      `json:"id"`
	ETag       string      `json:"etag"`
	Total      int         `json:"total"`
	Items      []QueueItem `json:"items"`
	RepeatMode string      `json:"repeat_mode,omitempty"`
	Shuffled   bool        `json:"shuffled"`
}

// Clone returns a deep copy of the queue.
func (q *Queue) Clone() *Queue {
	if q == nil {
		return nil
	}
	c := *q
	c.Items = append([]QueueItem(nil), q.Items...)
	return &c
}

// NewQueueItem describes an item of a queue being created.
type NewQueueItem struct {
	Type       string         `json:"type"`
	MediaID    ID             `json:"media_id"`
	Properties ItemProperties `json:"properties"`
}

// NewQueue is the body of a queue creation call.
type NewQueue struct {
	Properties struct {
		Position int `json:"position"`
	} `json:"properties"`
	RepeatMode string         `json:"repeat_mode"`
	Shuffled   bool           `json:"shuffled"`
	Items      []NewQueueItem `json:"items"`
}

// Page is one page of a paginated metadata listing.
type Page[T any] struct {
	Limit              int `json:"limit"`
	Offset             int `json:"offset"`
	TotalNumberOfItems int `json:"totalNumberOfItems"`
	Items              []T `json:"items"`
}

// OAuthParameters carries the tokens the receiver uses on our behalf.
type OAuthParameters struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// OAuthServerInfo tells the receiver how to refresh the tokens itself.
type OAuthServerInfo struct {
	ServerURL string `json:"serverUrl"`
	AuthInfo  struct {
		HeaderAuth      string          `json:"headerAuth"`
		OAuthParameters OAuthParameters `json:"oauthParameters"`
	} `json:"authInfo"`
	HTTPHeaderFields []string          `json:"httpHeaderFields"`
	FormParameters   map[string]string `json:"formParameters"`
}

// AuthInfo is the authentication block embedded in receiver payloads.
type AuthInfo struct {
	OAuthServerInfo OAuthServerInfo `json:"oauthServerInfo"`
}

// ServerInfo describes the endpoints the receiver fetches queue and content from.
type ServerInfo struct {
	QueueServerURL   string
	ContentServerURL string
	Auth             AuthInfo
}

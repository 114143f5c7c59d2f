package queue

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Window of items around the current one the receiver keeps prefetched.
const maxWindowSize = 10

// Endpoint tells the receiver where to fetch from and how to authenticate.
type Endpoint struct {
	ServerURL        string            `json:"serverUrl"`
	AuthInfo         catalog.AuthInfo  `json:"authInfo"`
	HTTPHeaderFields []string          `json:"httpHeaderFields"`
	QueryParameters  map[string]string `json:"queryParameters"`
}

// QueueInfo identifies the cloud queue to play.
type QueueInfo struct {
	QueueID       string `json:"queueId"`
	RepeatMode    string `json:"repeatMode"`
	Shuffled      bool   `json:"shuffled"`
	MaxBeforeSize int    `json:"maxBeforeSize"`
	MaxAfterSize  int    `json:"maxAfterSize"`
}

// Metadata is what the receiver displays for the current media.
type Metadata struct {
	Title      string           `json:"title"`
	Artists    []string         `json:"artists"`
	AlbumTitle string           `json:"albumTitle"`
	Duration   int64            `json:"duration"` // milliseconds
	Images     catalog.CoverSet `json:"images"`
}

// MediaInfo identifies one queue slot and its media.
type MediaInfo struct {
	ItemID    string     `json:"itemId"`
	MediaID   catalog.ID `json:"mediaId"`
	MediaType int        `json:"mediaType"`
	Metadata  Metadata   `json:"metadata"`
}

// LoadCloudQueue is the payload of the loadCloudQueue command.
type LoadCloudQueue struct {
	Autoplay          bool      `json:"autoplay"`
	Position          int       `json:"position"`
	QueueServerInfo   Endpoint  `json:"queueServerInfo"`
	ContentServerInfo Endpoint  `json:"contentServerInfo"`
	QueueInfo         QueueInfo `json:"queueInfo"`
	CurrentMediaInfo  MediaInfo `json:"currentMediaInfo"`
}

// Policy tells the receiver which transport controls to offer.
type Policy struct {
	CanNext     bool `json:"canNext"`
	CanPrevious bool `json:"canPrevious"`
}

// SelectQueueItem is the payload of the selectQueueItem command.
type SelectQueueItem struct {
	MediaInfo MediaInfo `json:"mediaInfo"`
	Policy    Policy    `json:"policy"`
}

// RefreshQueue is the payload of the refreshQueue command.
type RefreshQueue struct {
	QueueID string `json:"queueId"`
}

func mediaInfo(m Mirror, position int) MediaInfo {
	item := m.Queue.Items[position]
	track := m.Tracks[position].Item
	return MediaInfo{
		ItemID:    item.ID,
		MediaID:   item.MediaID,
		MediaType: 0,
		Metadata: Metadata{
			Title:      track.Title,
			Artists:    lo.Map(track.Artists, func(a catalog.Artist, _ int) string { return a.Name }),
			AlbumTitle: track.Album.Title,
			Duration:   track.DurationMs(),
			Images:     catalog.Covers(track.Album.Cover),
		},
	}
}

// PlaybackPayload builds the loadCloudQueue payload that starts m at position.
func (s *Synchronizer) PlaybackPayload(ctx context.Context, m Mirror, position int) (LoadCloudQueue, error) {
	if m.Queue == nil {
		return LoadCloudQueue{}, ErrEmptyQueue
	}
	if !m.InRange(position) {
		return LoadCloudQueue{}, fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}

	info, err := s.catalog.ServerInfo(ctx)
	if err != nil {
		return LoadCloudQueue{}, fmt.Errorf("server info: %w", err)
	}

	// Audio format hints follow the track the receiver starts with.
	current := m.Tracks[position].Item
	query := map[string]string{"audioquality": current.AudioQuality}
	if mode, ok := lo.First(current.AudioModes); ok {
		query["audiomode"] = mode
	}

	return LoadCloudQueue{
		Autoplay: true,
		Position: position,
		QueueServerInfo: Endpoint{
			ServerURL:        info.QueueServerURL,
			AuthInfo:         info.Auth,
			HTTPHeaderFields: []string{},
			QueryParameters:  map[string]string{},
		},
		ContentServerInfo: Endpoint{
			ServerURL:        info.ContentServerURL,
			AuthInfo:         info.Auth,
			HTTPHeaderFields: []string{},
			QueryParameters:  query,
		},
		QueueInfo: QueueInfo{
			QueueID:       m.Queue.ID,
			RepeatMode:    lo.Ternary(m.Queue.RepeatMode != "", m.Queue.RepeatMode, "off"),
			Shuffled:      m.Queue.Shuffled,
			MaxBeforeSize: maxWindowSize,
			MaxAfterSize:  maxWindowSize,
		},
		CurrentMediaInfo: mediaInfo(m, position),
	}, nil
}

// SelectPayload builds the selectQueueItem payload that jumps to position.
func SelectPayload(m Mirror, position int) (SelectQueueItem, error) {
	if m.Queue == nil {
		return SelectQueueItem{}, ErrEmptyQueue
	}
	if !m.InRange(position) {
		return SelectQueueItem{}, fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}
	return SelectQueueItem{
		MediaInfo: mediaInfo(m, position),
		Policy:    Policy{CanNext: true, CanPrevious: true},
	}, nil
}

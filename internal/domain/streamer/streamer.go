// Package streamer starts playback of catalog content on a receiver: it creates
// a cloud queue from a track list and makes the receiver load it.
package streamer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// MaxTracks caps the length of a created queue.
const MaxTracks = 100

// Source types recorded on each queue item.
const (
	SourceUnknown  = "unknown"
	SourceAlbum    = "album"
	SourcePlaylist = "playlist"
)

var (
	// ErrNoTracks indicates there is nothing to play
	ErrNoTracks = errors.New("no tracks to play")

	// ErrPositionOutOfRange indicates the start position is not in the track list
	ErrPositionOutOfRange = errors.New("start position out of range")
)

// Catalog is the subset of the catalog client the streamer needs.
type Catalog interface {
	CreateQueue(ctx context.Context, q catalog.NewQueue) (*catalog.Queue, error)
	FetchAlbumTracks(ctx context.Context, albumID string) ([]catalog.QueueTrack, error)
	FetchPlaylistTracks(ctx context.Context, playlistID string) ([]catalog.QueueTrack, error)
}

// Loader rebuilds a mirror from the cloud store.
type Loader interface {
	Load(ctx context.Context, queueID string) (queue.Mirror, error)
}

// Player is a receiver session able to load a queue.
type Player interface {
	Device() device.Device
	LoadQueue(ctx context.Context, m queue.Mirror, position int) error
}

// BeforePlay runs before a new queue is created. A failure is logged, not fatal.
type BeforePlay func(ctx context.Context) error

// Result describes what started playing.
type Result struct {
	ID     string        `json:"id,omitempty"`
	Title  string        `json:"title,omitempty"`
	Artist string        `json:"artist,omitempty"`
	Device device.Device `json:"device"`
}

// Service starts playback of tracks, albums and playlists.
type Service struct {
	catalog    Catalog
	loader     Loader
	beforePlay BeforePlay
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithBeforePlay sets a hook run before every new queue.
func WithBeforePlay(fn BeforePlay) Option {
	return func(s *Service) {
		s.beforePlay = fn
	}
}

// NewService creates a streamer service.
func NewService(c Catalog, loader Loader, opts ...Option) *Service {
	s := &Service{catalog: c, loader: loader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamTracks plays caller supplied tracks from position.
func (s *Service) StreamTracks(ctx context.Context, p Player, tracks []catalog.Track, position int) (Result, error) {
	items := lo.Map(tracks, func(t catalog.Track, _ int) catalog.QueueTrack {
		return catalog.QueueTrack{Item: t, Type: "track"}
	})
	if err := s.stream(ctx, p, SourceUnknown, "0", items, position); err != nil {
		return Result{}, err
	}
	return Result{Device: p.Device()}, nil
}

// StreamAlbum plays an album from position.
func (s *Service) StreamAlbum(ctx context.Context, p Player, albumID string, position int) (Result, error) {
	tracks, err := s.catalog.FetchAlbumTracks(ctx, albumID)
	if err != nil {
		return Result{}, err
	}
	if err := checkPosition(tracks, position); err != nil {
		return Result{}, err
	}

	start := tracks[position].Item
	result := Result{ID: albumID, Title: start.Album.Title, Device: p.Device()}
	if artist, ok := lo.First(start.Artists); ok {
		result.Artist = artist.Name
	}

	if err := s.stream(ctx, p, SourceAlbum, albumID, tracks, position); err != nil {
		return Result{}, err
	}
	return result, nil
}

// StreamPlaylist plays a playlist from position.
func (s *Service) StreamPlaylist(ctx context.Context, p Player, playlistID string, position int) (Result, error) {
	tracks, err := s.catalog.FetchPlaylistTracks(ctx, playlistID)
	if err != nil {
		return Result{}, err
	}
	if err := s.stream(ctx, p, SourcePlaylist, playlistID, tracks, position); err != nil {
		return Result{}, err
	}
	return Result{ID: playlistID, Device: p.Device()}, nil
}

func checkPosition(tracks []catalog.QueueTrack, position int) error {
	if len(tracks) == 0 {
		return ErrNoTracks
	}
	if position < 0 || position >= len(tracks) || position >= MaxTracks {
		return fmt.Errorf("%w: %d", ErrPositionOutOfRange, position)
	}
	return nil
}

func (s *Service) stream(ctx context.Context, p Player, sourceType, sourceID string, tracks []catalog.QueueTrack, position int) error {
	if err := checkPosition(tracks, position); err != nil {
		return err
	}

	if s.beforePlay != nil {
		if err := s.beforePlay(ctx); err != nil {
			log.Warn().Err(err).Msg("Before play command failed")
		}
	}

	if len(tracks) > MaxTracks {
		tracks = tracks[:MaxTracks]
	}

	var nq catalog.NewQueue
	nq.Properties.Position = position
	nq.RepeatMode = "off"
	nq.Items = lo.Map(tracks, func(t catalog.QueueTrack, i int) catalog.NewQueueItem {
		return catalog.NewQueueItem{
			Type:    lo.Ternary(t.Type != "", t.Type, "track"),
			MediaID: t.Item.ID,
			Properties: catalog.ItemProperties{
				OriginalOrder: i,
				SourceID:      sourceID,
				SourceType:    sourceType,
			},
		}
	})

	created, err := s.catalog.CreateQueue(ctx, nq)
	if err != nil {
		return err
	}

	m := queue.Mirror{Queue: created, Tracks: tracks}
	if len(created.Items) != len(tracks) {
		log.Debug().Str("queue", created.ID).Int("items", len(created.Items)).Int("tracks", len(tracks)).
			Msg("Created queue incomplete, reloading")
		if m, err = s.loader.Load(ctx, created.ID); err != nil {
			return err
		}
		if !m.InRange(position) {
			return fmt.Errorf("%w: %d", ErrPositionOutOfRange, position)
		}
	}

	log.Info().Str("device", p.Device().Name).Str("source", sourceType).Str("id", sourceID).
		Int("tracks", len(tracks)).Int("position", position).Msg("Streaming")
	return p.LoadQueue(ctx, m, position)
}
